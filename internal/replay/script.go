// Package replay plays recorded selection gestures through the annotation
// core and reports what a host would have observed.
package replay

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"margin/api/internal/annotate"
)

// Op is one scripted gesture step.
type Op string

const (
	OpStart  Op = "start"  // pointer down inside the container
	OpSelect Op = "select" // the platform selection changes
	OpClear  Op = "clear"  // the platform selection collapses
	OpTick   Op = "tick"   // one poll interval elapses
	OpMove   Op = "move"   // pointer move during the gesture
	OpUp     Op = "up"     // pointer released
	OpClick  Op = "click"  // panel button: up, down, comment or quote
	OpTag    Op = "tag"    // tag chip in the expanded vote row
	OpType   Op = "type"   // comment text replaced
	OpEnter  Op = "enter"  // key press in the comment input
	OpHide   Op = "hide"   // host dismisses the panel
)

type Step struct {
	Op        Op               `json:"op"`
	Selection *ScriptSelection `json:"selection,omitempty"`
	Action    string           `json:"action,omitempty"`
	Tag       string           `json:"tag,omitempty"`
	Text      string           `json:"text,omitempty"`
}

// ScriptSelection is a selection as recorded from a platform. A missing
// anchor offset means the platform could not report one.
type ScriptSelection struct {
	Text         string         `json:"text"`
	AnchorOffset *int           `json:"anchorOffset,omitempty"`
	Bounds       *annotate.Rect `json:"bounds,omitempty"`
	Collapsed    bool           `json:"collapsed,omitempty"`
}

func (s ScriptSelection) toSelection() annotate.Selection {
	sel := annotate.Selection{
		Text:         s.Text,
		Collapsed:    s.Collapsed,
		Bounds:       annotate.Rect{Width: 1, Height: 1},
		AnchorOffset: -1,
	}
	if s.Bounds != nil {
		sel.Bounds = *s.Bounds
	}
	if s.AnchorOffset != nil {
		sel.AnchorOffset = *s.AnchorOffset
	}
	return sel
}

// Script is a complete recorded session against one document. Container and
// Popover are nil until mounted.
type Script struct {
	Document  string                `json:"document"`
	UserID    string                `json:"userId"`
	Votes     []annotate.VoteRecord `json:"votes,omitempty"`
	Viewport  annotate.Viewport     `json:"viewport"`
	Container *annotate.Rect        `json:"container,omitempty"`
	Popover   *annotate.Rect        `json:"popover,omitempty"`
	TopOffset float64               `json:"topOffset,omitempty"`
	Steps     []Step                `json:"steps"`
}

// Decode reads and validates a JSON script.
func Decode(r io.Reader) (Script, error) {
	var script Script
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&script); err != nil {
		return Script{}, fmt.Errorf("decode script: %w", err)
	}
	if err := script.Validate(); err != nil {
		return Script{}, err
	}
	return script, nil
}

func (s Script) Validate() error {
	if strings.TrimSpace(s.Document) == "" {
		return fmt.Errorf("script document is empty")
	}
	for i, step := range s.Steps {
		switch step.Op {
		case OpStart, OpClear, OpTick, OpMove, OpUp, OpEnter, OpHide, OpType:
		case OpSelect:
			if step.Selection == nil {
				return fmt.Errorf("step %d: select needs a selection", i)
			}
		case OpClick:
			if !annotate.ActionType(step.Action).Valid() {
				return fmt.Errorf("step %d: unknown action %q", i, step.Action)
			}
		case OpTag:
			if strings.TrimSpace(step.Tag) == "" {
				return fmt.Errorf("step %d: tag is empty", i)
			}
		default:
			return fmt.Errorf("step %d: unknown op %q", i, step.Op)
		}
	}
	return nil
}
