// Package xmlproject implements the project file format: a three-section
// XML document (hardware adapters, instruments, modules) that round-trips
// a graph of configured objects against a Library (§6).
//
// The standard library's encoding/xml is used here; none of the example
// pack's repositories import a third-party XML library for this kind of
// document (see DESIGN.md for the full justification).
package xmlproject

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	dynexp "github.com/dynexp-go/core"
	"github.com/dynexp-go/core/errs"
	"github.com/dynexp-go/core/hardware"
	"github.com/dynexp-go/core/instrument"
	"github.com/dynexp-go/core/module"
)

// RawField is one persisted (key, value) pair under an Item.
type RawField struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// Item is one persisted object: which library entry constructed it, the
// ID it held when last saved, the user-assigned display name, and its
// field values.
type Item struct {
	Name       string     `xml:"name,attr"`
	Category   string     `xml:"category,attr,omitempty"`
	ObjectName string     `xml:"objectName,attr,omitempty"`
	ID         uint64     `xml:"id,attr"`
	Fields     []RawField `xml:"Field"`
}

// Project is the on-disk shape of a project file.
type Project struct {
	XMLName          xml.Name `xml:"DynExpProject"`
	HardwareAdapters []Item   `xml:"HardwareAdapters>Item"`
	Instruments      []Item   `xml:"Instruments>Item"`
	Modules          []Item   `xml:"Modules>Item"`
}

// Graph is the loaded, live object graph: one manager per category.
type Graph struct {
	Hardware    *hardware.Manager
	Instruments *instrument.Manager
	Modules     *module.Manager
}

// NewGraph constructs an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		Hardware:    hardware.NewManager(),
		Instruments: instrument.NewManager(),
		Modules:     module.NewManager(),
	}
}

// Load decodes a project file from r, resolving each Item against lib and
// populating a new Graph.
func Load(r io.Reader, lib *dynexp.Library) (*Graph, error) {
	var proj Project
	if err := xml.NewDecoder(r).Decode(&proj); err != nil {
		return nil, errs.New(errs.InvalidData, errs.SeverityError, "malformed project file: "+err.Error())
	}

	graph := NewGraph()

	for _, item := range proj.HardwareAdapters {
		obj, err := instantiate(lib, "HardwareAdapter", item)
		if err != nil {
			return nil, err
		}
		adapter, ok := obj.(*hardware.Adapter)
		if !ok {
			return nil, errs.New(errs.TypeError, errs.SeverityError, fmt.Sprintf("library entry %q did not produce a hardware.Adapter", item.Name))
		}
		graph.Hardware.InsertResource(adapter, dynexp.ItemID(item.ID))
	}

	for _, item := range proj.Instruments {
		obj, err := instantiate(lib, "Instrument", item)
		if err != nil {
			return nil, err
		}
		inst, ok := obj.(*instrument.Instrument)
		if !ok {
			return nil, errs.New(errs.TypeError, errs.SeverityError, fmt.Sprintf("library entry %q did not produce an instrument.Instrument", item.Name))
		}
		graph.Instruments.InsertResource(inst, dynexp.ItemID(item.ID))
	}

	for _, item := range proj.Modules {
		obj, err := instantiate(lib, "Module", item)
		if err != nil {
			return nil, err
		}
		mod, ok := obj.(*module.Module)
		if !ok {
			return nil, errs.New(errs.TypeError, errs.SeverityError, fmt.Sprintf("library entry %q did not produce a module.Module", item.Name))
		}
		graph.Modules.InsertResource(mod, dynexp.ItemID(item.ID))
	}

	return graph, nil
}

// instantiate resolves item against lib and populates its Params. The
// section an Item sits under implies its category; an explicit category
// attribute (present in every saved file) takes precedence.
func instantiate(lib *dynexp.Library, category string, item Item) (dynexp.Object, error) {
	if item.Category != "" {
		category = item.Category
	}
	entry, err := lib.Find(category, item.Name)
	if err != nil {
		return nil, err
	}
	obj := entry.NewObject(dynexp.ItemID(item.ID), 0)
	obj.SetObjectName(item.ObjectName)

	params := obj.ConfigParams()
	for _, f := range item.Fields {
		if field, ok := params.Get(f.Key); ok {
			v, err := parseFieldValue(field.Kind, f.Value)
			if err != nil {
				return nil, errs.New(errs.InvalidData, errs.SeverityError,
					fmt.Sprintf("field %q: %v", f.Key, err))
			}
			field.SetValue(v)
			continue
		}
		params.Unrecognized[f.Key] = f.Value
		obj.SetWarning(errs.New(errs.InvalidData, errs.SeverityWarning,
			fmt.Sprintf("unrecognized field %q is not saved back", f.Key)))
	}
	return obj, nil
}

// parseFieldValue parses a field's persisted XML string back into the Go
// type its Kind calls for, so FromXML(ToXML(P)) == P holds for every field
// kind, not just String/Enum (§8). ObjectLink fields aren't round-tripped
// through Field.Value at all (see LinkTargets/SetLinkTargets), so they
// pass through unparsed like String/Enum.
func parseFieldValue(kind dynexp.FieldKind, raw string) (any, error) {
	switch kind {
	case dynexp.FieldKindInt:
		return strconv.ParseInt(raw, 10, 64)
	case dynexp.FieldKindFloat:
		return strconv.ParseFloat(raw, 64)
	case dynexp.FieldKindBool:
		return strconv.ParseBool(raw)
	default:
		return raw, nil
	}
}

// Save encodes graph as a project file written to w.
func (g *Graph) Save(w io.Writer) error {
	proj := Project{}

	for _, id := range g.Hardware.IDs() {
		obj, ok := g.Hardware.GetResource(id)
		if !ok {
			continue
		}
		proj.HardwareAdapters = append(proj.HardwareAdapters, toItem(id, obj))
	}
	for _, id := range g.Instruments.IDs() {
		obj, ok := g.Instruments.GetResource(id)
		if !ok {
			continue
		}
		proj.Instruments = append(proj.Instruments, toItem(id, obj))
	}
	for _, id := range g.Modules.IDs() {
		obj, ok := g.Modules.GetResource(id)
		if !ok {
			continue
		}
		proj.Modules = append(proj.Modules, toItem(id, obj))
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(proj); err != nil {
		return errs.New(errs.InternalCore, errs.SeverityError, "failed to encode project file: "+err.Error())
	}
	return nil
}

func toItem(id dynexp.ItemID, obj dynexp.Object) Item {
	item := Item{
		Name:       obj.GetName(),
		Category:   obj.GetCategory(),
		ObjectName: obj.GetObjectName(),
		ID:         uint64(id),
	}
	for _, f := range obj.ConfigParams().Fields() {
		item.Fields = append(item.Fields, RawField{Key: f.Key, Value: formatFieldValue(f.Kind, f.Value())})
	}
	return item
}

// formatFieldValue is parseFieldValue's inverse: it formats a field's live
// value the same way strconv would parse it back, rather than fmt.Sprint's
// default formatting (which, for floats in particular, isn't guaranteed to
// agree with strconv.ParseFloat's expectations).
func formatFieldValue(kind dynexp.FieldKind, v any) string {
	switch kind {
	case dynexp.FieldKindInt:
		switch n := v.(type) {
		case int64:
			return strconv.FormatInt(n, 10)
		case int:
			return strconv.FormatInt(int64(n), 10)
		}
	case dynexp.FieldKindFloat:
		switch n := v.(type) {
		case float64:
			return strconv.FormatFloat(n, 'g', -1, 64)
		case float32:
			return strconv.FormatFloat(float64(n), 'g', -1, 32)
		}
	case dynexp.FieldKindBool:
		if b, ok := v.(bool); ok {
			return strconv.FormatBool(b)
		}
	}
	return fmt.Sprint(v)
}
