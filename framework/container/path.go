package container

import (
	"reflect"
	"strings"
)

// FrameState is the lifecycle of one in-flight resolution.
type FrameState int

const (
	// Pending frames have been pushed but their dependencies are not yet
	// being resolved.
	Pending FrameState = iota
	// Active frames are resolving their dependencies or constructing.
	Active
	// Resolved frames produced an instance.
	Resolved
	// Failed frames ended with an error.
	Failed
)

func (s FrameState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Frame is one step of a [Path].
type Frame struct {
	Requested reflect.Type
	Bound     reflect.Type
	Context   Context
}

func (f Frame) String() string {
	s := typeName(f.Requested)
	if f.Bound != nil && f.Bound != f.Requested {
		s += "(" + typeName(f.Bound) + ")"
	}
	if !f.Context.IsEmpty() {
		s += f.Context.String()
	}
	return s
}

// Path is an immutable snapshot of the reference chain from the root
// request to the current point.
type Path struct {
	frames []Frame
}

// Len returns the number of frames.
func (p Path) Len() int { return len(p.frames) }

// Frames returns a copy of the frames, root first.
func (p Path) Frames() []Frame { return append([]Frame(nil), p.frames...) }

// Last returns the innermost frame.
func (p Path) Last() (Frame, bool) {
	if len(p.frames) == 0 {
		return Frame{}, false
	}
	return p.frames[len(p.frames)-1], true
}

func (p Path) String() string {
	if len(p.frames) == 0 {
		return "<root>"
	}
	parts := make([]string, len(p.frames))
	for i, f := range p.frames {
		parts[i] = f.String()
	}
	return strings.Join(parts, " -> ")
}

func (p Path) append(f Frame) Path {
	frames := make([]Frame, len(p.frames), len(p.frames)+1)
	copy(frames, p.frames)
	return Path{frames: append(frames, f)}
}

// frame is the mutable stack entry behind a Frame.
type frame struct {
	Frame
	state FrameState

	// member is set while the frame constructs a member of a component
	// group.
	member *groupMember

	placeholders []*placeholder
	resolvers    []*resolver
}

// tracker is the stack of in-flight frames of one resolution call chain.
// It is never shared between goroutines.
type tracker struct {
	base   Path
	frames []*frame
}

func (t *tracker) push(f *frame) { t.frames = append(t.frames, f) }

func (t *tracker) pop(f *frame, err error) {
	if err != nil {
		f.state = Failed
	} else {
		f.state = Resolved
	}
	t.frames = t.frames[:len(t.frames)-1]
}

// find returns the in-flight frame constructing bound, if any.
func (t *tracker) find(bound reflect.Type) *frame {
	for i := len(t.frames) - 1; i >= 0; i-- {
		f := t.frames[i]
		if f.Bound == bound && (f.state == Pending || f.state == Active) {
			return f
		}
	}
	return nil
}

// groupFrame returns the innermost frame constructing a member of the group
// bound to api.
func (t *tracker) groupFrame(api reflect.Type) *frame {
	for i := len(t.frames) - 1; i >= 0; i-- {
		if m := t.frames[i].member; m != nil && m.group.api == api {
			return t.frames[i]
		}
	}
	return nil
}

func (t *tracker) snapshot() Path {
	frames := make([]Frame, 0, t.base.Len()+len(t.frames))
	frames = append(frames, t.base.frames...)
	for _, f := range t.frames {
		frames = append(frames, f.Frame)
	}
	return Path{frames: frames}
}
