package annotate

// Rect is a bounding box in viewport (client) pixels.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64  { return r.Left + r.Width }
func (r Rect) Bottom() float64 { return r.Top + r.Height }
func (r Rect) MidX() float64   { return r.Left + r.Width/2 }

// Viewport is the visible area of the hosting surface.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Selection is a snapshot of the platform's live text selection.
type Selection struct {
	Text      string `json:"text"`
	Collapsed bool   `json:"collapsed"`
	Bounds    Rect   `json:"bounds"`
	// AnchorOffset approximates where the selection's anchor node sits in
	// the document; -1 when the platform cannot tell.
	AnchorOffset int `json:"anchorOffset"`
}

// Breakpoints are the responsive thresholds, in viewport pixels.
type Breakpoints struct {
	Wide    float64 `json:"wide"`
	Narrow  float64 `json:"narrow"`
	Compact float64 `json:"compact"`
}

func DefaultBreakpoints() Breakpoints {
	return Breakpoints{Wide: 960, Narrow: 500, Compact: 400}
}

// popoverLift is the fixed gap kept between the popover and the selection.
const popoverLift = 80

// Side names the container edge the popover is anchored to.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Geometry positions the action panel relative to the selectable container.
type Geometry struct {
	Top   float64 `json:"top"`
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
	Side  Side    `json:"side"`
}

// ComputeGeometry anchors the popover above the selection. All inputs are
// viewport rectangles; the result is container-local so it follows the
// container's scroll rather than the page's.
func ComputeGeometry(vp Viewport, selection, container, popover Rect, topOffset float64, bp Breakpoints) Geometry {
	g := Geometry{
		Top:  selection.Top - container.Top - (popoverLift + topOffset),
		Side: SideLeft,
	}

	switch {
	case vp.Width <= bp.Narrow:
		// flush left so small screens never clip the panel
	case vp.Width <= bp.Wide && selection.Left > vp.Width/2:
		g.Side = SideRight
		g.Right = nonNegative(container.Right() - selection.Right())
	default:
		g.Left = nonNegative(selection.MidX() - container.Left - popover.Width/2)
	}
	return g
}

// PanelLayout is the presentation geometry of the action panel.
type PanelLayout struct {
	PanelWidth  float64 `json:"panelWidth"`
	TagRowWidth float64 `json:"tagRowWidth"`
}

var (
	regularLayout = PanelLayout{PanelWidth: 340, TagRowWidth: 300}
	compactLayout = PanelLayout{PanelWidth: 260, TagRowWidth: 220}
)

// PanelLayoutFor picks the panel widths for a viewport width.
func PanelLayoutFor(viewportWidth float64, bp Breakpoints) PanelLayout {
	if viewportWidth < bp.Compact {
		return compactLayout
	}
	return regularLayout
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
