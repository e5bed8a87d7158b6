package session

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/astromechza/pixel-place/pkg/grid"
)

// Step is one line of an input script: either an event to post or a pause.
type Step struct {
	Line  int
	Event Event
	Wait  time.Duration
}

// ParseScript reads gesture commands, one per line. Blank lines and # comments are skipped.
//
//	color C | down X Y | move X Y | up X Y | leave | wheel X Y DY | click X Y
//	resize W H | wait DURATION | frame PATH
func ParseScript(r io.Reader) ([]Step, error) {
	var steps []Step
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		step, err := parseStep(strings.Fields(text))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		step.Line = line
		steps = append(steps, step)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return steps, nil
}

func parseStep(fields []string) (Step, error) {
	cmd, args := fields[0], fields[1:]
	arity := map[string]int{
		"color": 1, "down": 2, "move": 2, "up": 2, "leave": 0, "wheel": 3,
		"click": 2, "resize": 2, "wait": 1, "frame": 1,
	}
	n, ok := arity[cmd]
	if !ok {
		return Step{}, fmt.Errorf("unknown command %q", cmd)
	}
	if len(args) != n {
		return Step{}, fmt.Errorf("%s takes %d arguments, got %d", cmd, n, len(args))
	}

	switch cmd {
	case "color":
		return Step{Event: SetColor{Color: grid.Color(args[0])}}, nil
	case "leave":
		return Step{Event: PointerLeave{}}, nil
	case "frame":
		return Step{Event: SaveFrame{Path: args[0]}}, nil
	case "wait":
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return Step{}, err
		}
		return Step{Wait: d}, nil
	case "resize":
		w, err := strconv.Atoi(args[0])
		if err != nil {
			return Step{}, err
		}
		h, err := strconv.Atoi(args[1])
		if err != nil {
			return Step{}, err
		}
		return Step{Event: Resize{Width: w, Height: h}}, nil
	}

	nums := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return Step{}, err
		}
		nums[i] = v
	}
	switch cmd {
	case "down":
		return Step{Event: PointerDown{X: nums[0], Y: nums[1]}}, nil
	case "move":
		return Step{Event: PointerMove{X: nums[0], Y: nums[1]}}, nil
	case "up":
		return Step{Event: PointerUp{X: nums[0], Y: nums[1]}}, nil
	case "click":
		return Step{Event: Click{X: nums[0], Y: nums[1]}}, nil
	default:
		return Step{Event: Wheel{X: nums[0], Y: nums[1], DeltaY: nums[2]}}, nil
	}
}
