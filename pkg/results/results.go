// Package results persists evaluation output: a per-run folder holding the
// metadata, the stacked reward array and the list of recorded videos.
package results

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/boristopalov/simeval/pkg/tasks"
	"github.com/sbinet/npyio"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

const (
	MetadataFile = "metadata.yaml"
	RewardsFile  = "reward_array.npy"
	VideosFile   = "video_paths.txt"

	folderLayout = "20060102-150405"
)

var ErrShapeMismatch = errors.New("reward shape mismatch")

// RunFolder creates results/<task>/<timestamp>/ and returns its path. An
// existing folder is never reused, so a second run started in the same second
// fails with fs.ErrExist.
func RunFolder(resultsDir string, task tasks.Kind, now time.Time) (string, error) {
	parent := filepath.Join(resultsDir, string(task))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("failed to create results dir: %w", err)
	}
	dir := filepath.Join(parent, now.Format(folderLayout))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create run folder: %w", err)
	}
	return dir, nil
}

type HostInfo struct {
	Hostname    string `yaml:"hostname"`
	OS          string `yaml:"os"`
	Platform    string `yaml:"platform,omitempty"`
	CPUs        int    `yaml:"cpus"`
	CPUModel    string `yaml:"cpu_model,omitempty"`
	MemoryBytes uint64 `yaml:"memory_bytes,omitempty"`
}

// CollectHostInfo describes the machine the run executes on. Probes that fail
// leave their fields empty.
func CollectHostInfo() HostInfo {
	info := HostInfo{OS: runtime.GOOS, CPUs: runtime.NumCPU()}
	if h, err := host.Info(); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform + " " + h.PlatformVersion
	}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		info.CPUs = n
	}
	if c, err := cpu.Info(); err == nil && len(c) > 0 {
		info.CPUModel = c[0].ModelName
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryBytes = vm.Total
	}
	return info
}

// Metadata is written once, before any rollout runs.
type Metadata struct {
	RunID           string    `yaml:"run_id"`
	StartedAt       time.Time `yaml:"started_at"`
	Task            string    `yaml:"task"`
	DatasetPath     string    `yaml:"dataset_path"`
	MaxSteps        int       `yaml:"max_steps"`
	ModelFilename   string    `yaml:"model_filename"`
	ModdedGeomNames []string  `yaml:"modded_geom_names"`
	ModdedGeomRGBs  [][3]int  `yaml:"modded_geom_rgbs"`
	Seeds           []int64   `yaml:"seeds"`
	TotalRollouts   int       `yaml:"total_rollouts"`
	RolloutsPerSim  int       `yaml:"rollouts_per_sim"`
	Modified        bool      `yaml:"modified"`
	Host            HostInfo  `yaml:"host"`
}

// Store appends chunk results to a run folder.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

func (s *Store) WriteMetadata(md Metadata) error {
	data, err := yaml.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(s.path(MetadataFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func (s *Store) ReadMetadata() (Metadata, error) {
	var md Metadata
	data, err := os.ReadFile(s.path(MetadataFile))
	if err != nil {
		return md, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := yaml.Unmarshal(data, &md); err != nil {
		return md, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return md, nil
}

// AppendRewards stacks rewards below the rows already on disk. The first call
// creates the file.
func (s *Store) AppendRewards(rewards *mat.Dense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := rewards
	prev, err := s.loadRewards()
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return err
	default:
		_, pc := prev.Dims()
		r, c := rewards.Dims()
		if pc != c {
			return fmt.Errorf("%w: stored rows have %d columns, chunk has %d", ErrShapeMismatch, pc, c)
		}
		pr, _ := prev.Dims()
		all = mat.NewDense(pr+r, c, nil)
		all.Stack(prev, rewards)
	}

	tmp := s.path(RewardsFile + ".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to write rewards: %w", err)
	}
	if err := npyio.Write(f, all); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode rewards: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write rewards: %w", err)
	}
	return os.Rename(tmp, s.path(RewardsFile))
}

func (s *Store) LoadRewards() (*mat.Dense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadRewards()
}

func (s *Store) loadRewards() (*mat.Dense, error) {
	f, err := os.Open(s.path(RewardsFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var m mat.Dense
	if err := npyio.Read(f, &m); err != nil {
		return nil, fmt.Errorf("failed to decode rewards: %w", err)
	}
	return &m, nil
}

// AppendVideoPaths adds one line per path.
func (s *Store) AppendVideoPaths(paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path(VideosFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open video log: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, p := range paths {
		if _, err := w.WriteString(p + "\n"); err != nil {
			return fmt.Errorf("failed to append video path: %w", err)
		}
	}
	return w.Flush()
}

func (s *Store) VideoPaths() ([]string, error) {
	f, err := os.Open(s.path(VideosFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var paths []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, sc.Err()
}
