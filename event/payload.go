package event

import "encoding/json"

// SchemaVersion is stamped into every encoded payload so a future reader
// can migrate old records. Bump only on incompatible payload changes.
const SchemaVersion = 1

// Payload is the closed union of edit variants. The set is deliberately
// sealed: replay must fail loudly on anything it does not recognize, so
// decoding never invents variants and folding an Unknown is a hard error.
type Payload interface {
	// Kind returns the wire discriminator for this variant.
	Kind() string
	sealed()
}

// Discriminator values. These are wire format — renaming one breaks every
// store written before the rename.
const (
	KindObjectAdded       = "object_added"
	KindObjectMoved       = "object_moved"
	KindObjectTransformed = "object_transformed"
	KindPropertySet       = "property_set"
	KindStrokeAppended    = "stroke_appended"
	KindObjectRemoved     = "object_removed"
	KindDocumentRenamed   = "document_renamed"
)

// ObjectAdded places a new object on the canvas.
type ObjectAdded struct {
	ObjectID string  `json:"object_id"`
	Shape    string  `json:"shape"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// ObjectMoved translates an object. Drag gestures emit a sampled run of
// these, which the grouping service folds into one undo unit.
type ObjectMoved struct {
	ObjectID string  `json:"object_id"`
	DX       float64 `json:"dx"`
	DY       float64 `json:"dy"`
}

// ObjectTransformed scales and rotates an object about its position.
type ObjectTransformed struct {
	ObjectID string  `json:"object_id"`
	Scale    float64 `json:"scale"`
	Rotation float64 `json:"rotation"`
}

// PropertySet assigns a named property on an object (fill, opacity, ...).
type PropertySet struct {
	ObjectID string `json:"object_id"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

// StrokeAppended extends an object's stroke with sampled pen points.
type StrokeAppended struct {
	ObjectID string  `json:"object_id"`
	Points   []Point `json:"points"`
}

// Point is one sampled pen position with pressure.
type Point struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Pressure float64 `json:"pressure"`
}

// ObjectRemoved deletes an object from the canvas.
type ObjectRemoved struct {
	ObjectID string `json:"object_id"`
}

// DocumentRenamed changes the document title.
type DocumentRenamed struct {
	Title string `json:"title"`
}

// Unknown holds a payload whose discriminator this build does not
// recognize — typically a record written by a newer version. The raw bytes
// are preserved so the record survives rewrites; replay refuses to fold it.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (ObjectAdded) Kind() string       { return KindObjectAdded }
func (ObjectMoved) Kind() string       { return KindObjectMoved }
func (ObjectTransformed) Kind() string { return KindObjectTransformed }
func (PropertySet) Kind() string       { return KindPropertySet }
func (StrokeAppended) Kind() string    { return KindStrokeAppended }
func (ObjectRemoved) Kind() string     { return KindObjectRemoved }
func (DocumentRenamed) Kind() string   { return KindDocumentRenamed }
func (u Unknown) Kind() string         { return u.Type }

func (ObjectAdded) sealed()       {}
func (ObjectMoved) sealed()       {}
func (ObjectTransformed) sealed() {}
func (PropertySet) sealed()       {}
func (StrokeAppended) sealed()    {}
func (ObjectRemoved) sealed()     {}
func (DocumentRenamed) sealed()   {}
func (Unknown) sealed()           {}
