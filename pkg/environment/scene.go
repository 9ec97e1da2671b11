package environment

import (
	"github.com/boristopalov/simeval/pkg/sim"
	"github.com/boristopalov/simeval/pkg/tasks"
)

const (
	eefBody    = "robot0_eef"
	objectBody = "object"
	tableZ     = 0.8
)

// layout describes where a task puts its object and goal.
type layout struct {
	objectGeoms []string
	objectSize  float64
	objectMass  float64
	objectPos   sim.Vec3
	goal        sim.Vec3
	lift        bool // goal is relative: raise the object by goal[2]
	hasTable    bool
}

var layouts = map[tasks.Kind]layout{
	tasks.Lift: {
		objectGeoms: []string{"cube_g0_vis"},
		objectSize:  0.021, objectMass: 0.08,
		objectPos: sim.Vec3{0, 0, tableZ + 0.021},
		goal:      sim.Vec3{0, 0, 0.1},
		lift:      true, hasTable: true,
	},
	tasks.Can: {
		objectGeoms: []string{"Can_g0_visual"},
		objectSize:  0.033, objectMass: 0.2,
		objectPos: sim.Vec3{0.1, -0.25, tableZ + 0.06},
		goal:      sim.Vec3{0.1, 0.28, tableZ + 0.06},
	},
	tasks.Square: {
		objectGeoms: []string{"SquareNut_g0_visual", "SquareNut_g1_visual", "SquareNut_g2_visual",
			"SquareNut_g3_visual", "SquareNut_g4_visual"},
		objectSize: 0.04, objectMass: 0.15,
		objectPos: sim.Vec3{-0.11, 0.15, tableZ + 0.02},
		goal:      sim.Vec3{0.23, 0.1, tableZ + 0.1},
		hasTable:  true,
	},
	tasks.ToolHang: {
		objectGeoms: []string{"tool_handle_g0_vis"},
		objectSize:  0.03, objectMass: 0.3,
		objectPos: sim.Vec3{-0.05, -0.2, tableZ + 0.02},
		goal:      sim.Vec3{0, 0.2, tableZ + 0.3},
		hasTable:  true,
	},
	tasks.Transport: {
		objectGeoms: []string{"trash_g0_vis", "payload_handle_vis", "payload_head_vis"},
		objectSize:  0.04, objectMass: 0.25,
		objectPos: sim.Vec3{0, 0.4, tableZ + 0.05},
		goal:      sim.Vec3{0, -0.4, tableZ + 0.05},
	},
}

func rgba(c sim.RGB) [4]float64 {
	return [4]float64{float64(c[0]) / 255, float64(c[1]) / 255, float64(c[2]) / 255, 1}
}

// buildScene assembles the model for a task. Every geom name in the task table
// exists in the returned model.
func buildScene(task tasks.Task) *sim.Model {
	lay := layouts[task.Kind]
	identity := sim.Quat{1, 0, 0, 0}
	friction := sim.Vec3{1, 0.005, 0.0001}
	solref := [2]float64{0.02, 1}
	solimp := [3]float64{0.9, 0.95, 0.001}

	m := &sim.Model{
		Opt: sim.Options{Timestep: 0.005, Gravity: sim.Vec3{0, 0, -9.81}, Density: 1.2, Viscosity: 0.00002},
		Bodies: []sim.Body{
			{Name: eefBody, Pos: sim.Vec3{0, 0, tableZ + 0.25}, Quat: identity, Mass: 1, Inertia: sim.Vec3{0.01, 0.01, 0.01}},
			{Name: objectBody, Pos: lay.objectPos, Quat: identity, Mass: lay.objectMass,
				Inertia: sim.Vec3{0.0005, 0.0005, 0.0005}},
		},
		Joints: []sim.Joint{
			{Name: "robot0_joint1", Stiffness: 0, FrictionLoss: 0.1, Damping: 1, Armature: 0.05},
			{Name: "gripper0_finger_joint1", Stiffness: 0, FrictionLoss: 0, Damping: 0.5, Armature: 0.01},
		},
		Textures: []sim.Texture{
			{Name: "skybox", Kind: sim.TextureGradient, RGB1: sim.RGB{80, 100, 140}, RGB2: sim.RGB{200, 210, 230}, Skybox: true, Width: 4, Height: 32},
			{Name: "texplane", Kind: sim.TextureChecker, RGB1: sim.RGB{110, 110, 110}, RGB2: sim.RGB{140, 140, 140}, Width: 16, Height: 16},
			{Name: "tex-ceramic", Kind: sim.TextureRGB, RGB1: sim.RGB{230, 230, 230}, RGB2: sim.RGB{230, 230, 230}, Width: 8, Height: 8},
		},
		Materials: []sim.Material{
			{Name: "floorplane", RGBA: [4]float64{1, 1, 1, 1}, Reflectance: 0.01, Shininess: 0, Specular: 0, Texture: 1},
			{Name: "table_ceramic", RGBA: [4]float64{1, 1, 1, 1}, Reflectance: 0, Shininess: 0, Specular: 0.2, Texture: 2},
		},
		Lights: []sim.Light{
			{Name: "light0", Pos: sim.Vec3{1, 1, 1.5}, Dir: sim.Vec3{-0.19, -0.19, -0.96}, Specular: sim.Vec3{0.3, 0.3, 0.3},
				Ambient: sim.Vec3{0.1, 0.1, 0.1}, Diffuse: sim.Vec3{0.8, 0.8, 0.8}, Active: true},
			{Name: "light1", Pos: sim.Vec3{-3, -3, 4}, Dir: sim.Vec3{0, 0, -1}, Specular: sim.Vec3{0.3, 0.3, 0.3},
				Ambient: sim.Vec3{0.1, 0.1, 0.1}, Diffuse: sim.Vec3{0.5, 0.5, 0.5}, Active: true},
		},
		Cameras: []sim.Camera{
			// looking down and forward at the table from the front
			{Name: "agentview", Body: -1, Pos: sim.Vec3{0, -1.2, tableZ + 0.9}, Quat: sim.NormalizeQuat(sim.Quat{0.92, 0.38, 0, 0}), Fovy: 45},
			{Name: "sideview", Body: -1, Pos: sim.Vec3{1.2, 0, tableZ + 0.6}, Quat: sim.NormalizeQuat(sim.Quat{0.65, 0.27, 0.27, 0.65}), Fovy: 45},
			{Name: "shouldercamera0", Body: -1, Pos: sim.Vec3{0, -0.9, tableZ + 1.2}, Quat: sim.NormalizeQuat(sim.Quat{0.95, 0.3, 0, 0}), Fovy: 60},
			{Name: "robot0_eye_in_hand", Body: 0, Pos: sim.Vec3{0, 0, 0.05}, Quat: identity, Fovy: 75},
		},
	}
	m.Geoms = append(m.Geoms, sim.Geom{
		Name: "floor", Body: -1, Pos: sim.Vec3{0, 0, 0}, Size: sim.Vec3{3, 3, 0.125},
		RGBA: [4]float64{1, 1, 1, 1}, Material: 0, Friction: friction, Solref: solref, Solimp: solimp,
	})
	if lay.hasTable {
		m.Geoms = append(m.Geoms, sim.Geom{
			Name: "table_visual", Body: -1, Pos: sim.Vec3{0, 0, tableZ}, Size: sim.Vec3{0.4, 0.4, 0.025},
			RGBA: [4]float64{1, 1, 1, 1}, Material: 1, Friction: friction, Solref: solref, Solimp: solimp,
		})
	}

	walls := map[string]sim.Vec3{
		"wall_leftcorner_visual":  {-1.25, 2.25, 1.5},
		"wall_rightcorner_visual": {-1.25, -2.25, 1.5},
		"wall_left_visual":        {1.25, 3, 1.5},
		"wall_right_visual":       {1.25, -3, 1.5},
		"wall_rear_visual":        {-1.5, 0, 1.5},
		"wall_front_visual":       {3, 0, 1.5},
	}
	for _, name := range task.GeomNames {
		pos, ok := walls[name]
		if !ok {
			continue
		}
		m.Geoms = append(m.Geoms, sim.Geom{
			Name: name, Body: -1, Pos: pos, Size: sim.Vec3{0.6, 0.6, 1.5},
			RGBA: [4]float64{0.9, 0.9, 0.7, 1}, Material: -1, Friction: friction, Solref: solref, Solimp: solimp,
		})
	}
	if task.Kind == tasks.Transport {
		m.Geoms = append(m.Geoms, sim.Geom{
			Name: "transport_start_bin_lid_handle_vis", Body: -1, Pos: sim.Vec3{0, 0.4, tableZ + 0.12}, Size: sim.Vec3{0.03, 0.03, 0.01},
			RGBA: [4]float64{0.3, 0.3, 0.3, 1}, Material: -1, Friction: friction, Solref: solref, Solimp: solimp,
		})
	}

	m.Geoms = append(m.Geoms,
		sim.Geom{Name: "robot0_link7_vis", Body: 0, Pos: sim.Vec3{0, 0, 0.08}, Size: sim.Vec3{0.04, 0.04, 0.06},
			RGBA: [4]float64{0.95, 0.95, 0.95, 1}, Material: -1, Friction: friction, Solref: solref, Solimp: solimp},
		sim.Geom{Name: "gripper0_finger_vis", Body: 0, Pos: sim.Vec3{0, 0, 0}, Size: sim.Vec3{0.015, 0.015, 0.02},
			RGBA: [4]float64{0.5, 0.5, 0.5, 1}, Material: -1, Friction: friction, Solref: solref, Solimp: solimp},
	)
	for i, name := range lay.objectGeoms {
		m.Geoms = append(m.Geoms, sim.Geom{
			Name: name, Body: 1, Pos: sim.Vec3{float64(i) * 0.01, 0, 0}, Size: sim.Vec3{lay.objectSize, lay.objectSize, lay.objectSize},
			RGBA: [4]float64{0.8, 0.2, 0.2, 1}, Material: -1, Friction: friction, Solref: solref, Solimp: solimp,
		})
	}

	for i := range m.Textures {
		m.Textures[i].Fill(nil)
	}
	return m
}
