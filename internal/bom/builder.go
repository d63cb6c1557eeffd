// Package bom builds, merges and encodes CycloneDX CBOM documents.
package bom

import (
	"bytes"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/google/uuid"
)

var version string

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		version = "unknown"
	} else {
		version = info.Main.Version
	}
}

// Builder is a builder pattern for a CycloneDX BOM structure
type Builder struct {
	components   []cdx.Component
	dependencies []cdx.Dependency
	properties   []cdx.Property
}

func NewBuilder() *Builder {
	return &Builder{
		// those MUST be initialized as cyclone-dx JSON schema do not allow items to be null
		components:   []cdx.Component{},
		dependencies: []cdx.Dependency{},
		properties:   []cdx.Property{},
	}
}

func (b *Builder) AppendComponents(components ...cdx.Component) *Builder {
	b.components = append(b.components, components...)
	return b
}

func (b *Builder) AppendProperties(properties ...cdx.Property) *Builder {
	b.properties = append(b.properties, properties...)
	return b
}

func (b *Builder) AppendDependencies(dependencies ...cdx.Dependency) *Builder {
	b.dependencies = append(b.dependencies, dependencies...)
	return b
}

// HasComponents reports whether any component was appended so far.
func (b *Builder) HasComponents() bool {
	return len(b.components) > 0
}

// BOM returns a cdx.BOM based on a data inside the Builder
func (b *Builder) BOM() *cdx.BOM {
	bom := &cdx.BOM{
		JSONSchema:   "https://cyclonedx.org/schema/bom-1.6.schema.json",
		BOMFormat:    "CycloneDX",
		SpecVersion:  cdx.SpecVersion1_6,
		SerialNumber: "urn:uuid:" + uuid.New().String(),
		Version:      1,
		Metadata: &cdx.Metadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Lifecycles: &[]cdx.Lifecycle{
				{
					Phase: "pre-build",
				},
			},
			// This can't be not nil otherwise this error will happen
			// json: error calling MarshalJSON for type *cyclonedx.ToolsChoice: unexpected end of JSON input
			Component: &cdx.Component{
				Type:    "application",
				Name:    "cbomkit-go",
				Version: version,
				Manufacturer: &cdx.OrganizationalEntity{
					Name: "PQCA",
					URL: &[]string{
						"https://pqca.org",
					},
				},
			},
		},
		Components:   &b.components,
		Dependencies: &b.dependencies,
		Properties:   &b.properties,
	}
	return bom
}

// AsJSON encodes a BOM into JSON format.
func AsJSON(bom *cdx.BOM, w io.Writer) error {
	return cdx.NewBOMEncoder(w, cdx.BOMFileFormatJSON).SetPretty(true).Encode(bom)
}

// ToJSONString renders a BOM as a JSON string, used for the final progress
// payload.
func ToJSONString(bom *cdx.BOM) (string, error) {
	var buf bytes.Buffer
	if err := AsJSON(bom, &buf); err != nil {
		return "", fmt.Errorf("encoding bom to JSON: %w", err)
	}
	return buf.String(), nil
}

// Decode reads a JSON encoded BOM.
func Decode(r io.Reader) (*cdx.BOM, error) {
	var bom cdx.BOM
	if err := cdx.NewBOMDecoder(r, cdx.BOMFileFormatJSON).Decode(&bom); err != nil {
		return nil, fmt.Errorf("decoding bom from JSON: %w", err)
	}
	return &bom, nil
}
