package experiment

import (
	"fmt"
	"io"

	"github.com/boristopalov/simeval/pkg/results"
	"github.com/boristopalov/simeval/pkg/tasks"
	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/mat"
)

// Summary is computed from the persisted reward array, so it reflects exactly
// what a later analysis would read.
type Summary struct {
	Task       tasks.Kind
	RunDir     string
	Rollouts   int
	Successes  int
	MeanLength float64
}

func (s *Summary) SuccessRate() float64 {
	if s.Rollouts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Rollouts)
}

// Summarize counts a rollout as successful when any of its rewards is
// positive. Episode length is the index of the first reward, or the full
// horizon.
func Summarize(store *results.Store, task tasks.Kind) (*Summary, error) {
	rewards, err := store.LoadRewards()
	if err != nil {
		return nil, fmt.Errorf("failed to load rewards: %w", err)
	}
	rows, cols := rewards.Dims()
	s := &Summary{Task: task, RunDir: store.Dir(), Rollouts: rows}
	total := 0
	for i := 0; i < rows; i++ {
		row := mat.Row(nil, i, rewards)
		length := cols
		for t, r := range row {
			if r > 0 {
				length = t + 1
				s.Successes++
				break
			}
		}
		total += length
	}
	if rows > 0 {
		s.MeanLength = float64(total) / float64(rows)
	}
	return s, nil
}

func (s *Summary) Render(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Task", "Rollouts", "Successes", "Success Rate", "Mean Steps", "Results")
	if err := table.Append([]string{
		string(s.Task),
		fmt.Sprintf("%d", s.Rollouts),
		fmt.Sprintf("%d", s.Successes),
		fmt.Sprintf("%.1f%%", 100*s.SuccessRate()),
		fmt.Sprintf("%.1f", s.MeanLength),
		s.RunDir,
	}); err != nil {
		return err
	}
	return table.Render()
}
