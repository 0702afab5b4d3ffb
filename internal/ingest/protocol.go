// Package ingest reads detector output and feeds it to the gaze engine.
//
// The wire format is one comma-separated command per line:
//
//	T,<id>,<x>,<y>[,<confidence>]          position update
//	R,<id>,<kind>,<x>,<y>[,<priority>]     explicit registration
//	G,<x>,<y>[,<target id>]                gaze command
//	X,<id>                                 stop tracking
//
// Blank lines and lines starting with '#' are ignored.
package ingest

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/gazetrack/internal/tracking"
)

// Op identifies a command.
type Op byte

const (
	OpTrack    Op = 'T'
	OpRegister Op = 'R'
	OpGaze     Op = 'G'
	OpStop     Op = 'X'
)

func (o Op) String() string { return string(o) }

// ErrMalformed wraps every parse failure.
var ErrMalformed = errors.New("malformed command")

// Command is one parsed line.
type Command struct {
	Op         Op
	ID         string // target id for T, R and X; optional target hint for G
	Kind       string
	Position   tracking.Vec2
	Confidence *float64
	Priority   float64
}

// Parse decodes a single line. ok is false for blank and comment lines.
func Parse(line string) (cmd Command, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Command{}, false, nil
	}

	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if len(fields[0]) != 1 {
		return Command{}, false, malformed(line, "unknown op %q", fields[0])
	}

	cmd.Op = Op(strings.ToUpper(fields[0])[0])
	args := fields[1:]
	switch cmd.Op {
	case OpTrack:
		if len(args) != 3 && len(args) != 4 {
			return Command{}, false, malformed(line, "want T,id,x,y[,confidence]")
		}
		cmd.ID = args[0]
		if cmd.Position, err = parseVec(args[1], args[2]); err != nil {
			return Command{}, false, malformed(line, "%v", err)
		}
		if len(args) == 4 {
			c, err := parseFloat(args[3])
			if err != nil || c < 0 || c > 1 {
				return Command{}, false, malformed(line, "confidence %q not in [0, 1]", args[3])
			}
			cmd.Confidence = &c
		}

	case OpRegister:
		if len(args) != 4 && len(args) != 5 {
			return Command{}, false, malformed(line, "want R,id,kind,x,y[,priority]")
		}
		cmd.ID, cmd.Kind = args[0], args[1]
		if cmd.Position, err = parseVec(args[2], args[3]); err != nil {
			return Command{}, false, malformed(line, "%v", err)
		}
		if len(args) == 5 {
			if cmd.Priority, err = parseFloat(args[4]); err != nil {
				return Command{}, false, malformed(line, "%v", err)
			}
		}

	case OpGaze:
		if len(args) != 2 && len(args) != 3 {
			return Command{}, false, malformed(line, "want G,x,y[,target]")
		}
		if cmd.Position, err = parseVec(args[0], args[1]); err != nil {
			return Command{}, false, malformed(line, "%v", err)
		}
		if len(args) == 3 {
			cmd.ID = args[2]
		}

	case OpStop:
		if len(args) != 1 {
			return Command{}, false, malformed(line, "want X,id")
		}
		cmd.ID = args[0]

	default:
		return Command{}, false, malformed(line, "unknown op %q", fields[0])
	}

	if cmd.Op != OpGaze && cmd.ID == "" {
		return Command{}, false, malformed(line, "empty target id")
	}
	return cmd, true, nil
}

func malformed(line, format string, args ...interface{}) error {
	return fmt.Errorf("%w %q: %s", ErrMalformed, line, fmt.Sprintf(format, args...))
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not finite", s)
	}
	return v, nil
}

func parseVec(xs, ys string) (tracking.Vec2, error) {
	x, err := parseFloat(xs)
	if err != nil {
		return tracking.Vec2{}, err
	}
	y, err := parseFloat(ys)
	if err != nil {
		return tracking.Vec2{}, err
	}
	return tracking.Vec2{X: x, Y: y}, nil
}
