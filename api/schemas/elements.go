package schemas

import "time"

// Position describes where an element is rendered and whether any part of it
// falls inside the current viewport.
type Position struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	InViewport bool    `json:"inViewport"`
}

// HasArea reports whether the element occupies any rendered space.
func (p Position) HasArea() bool {
	return p.Width > 0 && p.Height > 0
}

// Visibility captures the computed style properties that decide whether a user
// can actually see the element.
type Visibility struct {
	Display    string  `json:"display"`
	Visibility string  `json:"visibility"`
	Opacity    float64 `json:"opacity"`
	ZIndex     int     `json:"zIndex"`
}

// Visible reports whether the style alone would let the element render.
func (v Visibility) Visible() bool {
	return v.Display != "none" && v.Visibility != "hidden" && v.Opacity > 0
}

// InteractionState captures the dynamic flags that gate interaction with an
// element at the moment of capture.
type InteractionState struct {
	Disabled bool `json:"disabled"`
	ReadOnly bool `json:"readonly"`
	Checked  bool `json:"checked"`
	Focused  bool `json:"focused"`
}

// ElementDescriptor is one bounded observation of a DOM element. The ElementID
// is stable within a single Snapshot only; cross-snapshot identity is the
// differ's business. Selectors is ordered most specific first and is never
// empty for an element that made it into a Snapshot.
type ElementDescriptor struct {
	ElementID        string            `json:"elementId"`
	Tag              string            `json:"tag"`
	Text             string            `json:"text"`
	ID               string            `json:"id,omitempty"`
	ClassList        []string          `json:"classList,omitempty"`
	Position         Position          `json:"position"`
	Visibility       Visibility        `json:"visibility"`
	InteractionState InteractionState  `json:"interactionState"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	Selectors        []string          `json:"selectors"`

	// Role-specific fields, populated only where they apply.
	InputType string `json:"inputType,omitempty"`
	Href      string `json:"href,omitempty"`
	FormID    string `json:"formId,omitempty"`
	LabelText string `json:"labelText,omitempty"`
}

// PrimarySelector returns the most specific candidate locator.
func (d ElementDescriptor) PrimarySelector() string {
	if len(d.Selectors) == 0 {
		return ""
	}
	return d.Selectors[0]
}

// ScrollPosition is the page scroll offset at capture time.
type ScrollPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Snapshot is one bounded capture of page state. It is created once per
// control-loop iteration, never mutated afterwards, and superseded by the next
// capture.
type Snapshot struct {
	Elements []ElementDescriptor `json:"elements"`
	// HTMLContext is a curated, attribute-stripped markup excerpt of the
	// interactive and structural elements plus page metadata.
	HTMLContext string         `json:"htmlContext"`
	URL         string         `json:"url"`
	Title       string         `json:"title"`
	Scroll      ScrollPosition `json:"scrollPosition"`
	Timestamp   time.Time      `json:"timestamp"`

	// CaptchaPresent is set when the extractor recognises a captcha widget on
	// the page. The prompt builder surfaces it to the model.
	CaptchaPresent bool `json:"captchaPresent,omitempty"`

	// MutationCount is the passive mutation-observer reading at capture time.
	// Informational only; the differ does not consult it.
	MutationCount int64 `json:"mutationCount,omitempty"`
}

// ModifiedElement pairs a current descriptor with the field-level delta that
// made the differ classify it as modified.
type ModifiedElement struct {
	ElementDescriptor
	Changes map[string]string `json:"_changes"`
}

// DiffMetadata summarises a Diff for change-ratio decisions upstream.
type DiffMetadata struct {
	ChangeRatio    float64 `json:"changeRatio"`
	AddedCount     int     `json:"addedCount"`
	RemovedCount   int     `json:"removedCount"`
	ModifiedCount  int     `json:"modifiedCount"`
	UnchangedCount int     `json:"unchangedCount"`
	TotalCurrent   int     `json:"totalCurrent"`
}

// Diff partitions two consecutive Snapshots. Every current element hash lands
// in exactly one of Added, Modified, or Unchanged (the latter capped and
// importance filtered); Removed carries only hashes seen in the previous
// snapshot and absent from the current one.
type Diff struct {
	Added     []ElementDescriptor `json:"added"`
	Removed   []string            `json:"removed"`
	Modified  []ModifiedElement   `json:"modified"`
	Unchanged []ElementDescriptor `json:"unchanged"`
	Metadata  DiffMetadata        `json:"metadata"`
}

// FullReplace reports whether the diff represents a first capture, where the
// entire element set is surfaced as added.
func (d *Diff) FullReplace() bool {
	return d.Metadata.RemovedCount == 0 &&
		d.Metadata.ModifiedCount == 0 &&
		d.Metadata.UnchangedCount == 0 &&
		d.Metadata.AddedCount == d.Metadata.TotalCurrent
}
