// Copyright 2026 The dbmigrate Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dbmigrate/migrator/internal/sources"
)

// xmlGlobalConfig is the on-disk shape of the global config.
type xmlGlobalConfig struct {
	XMLName         xml.Name `xml:"GlobalConfig"`
	Environment     string   `xml:"Environment"`
	DefaultLogLevel string   `xml:"DefaultLogLevel"`
}

// LoadGlobalConfig reads and parses a global config XML file.
func LoadGlobalConfig(path string) (GlobalConfig, error) {
	var doc xmlGlobalConfig
	if err := decodeFile(path, &doc); err != nil {
		return GlobalConfig{}, err
	}
	return GlobalConfig{Environment: doc.Environment, DefaultLogLevel: doc.DefaultLogLevel}, nil
}

type xmlConnection struct {
	Provider               string `xml:"Provider"`
	Host                   string `xml:"Host"`
	Port                   int    `xml:"Port"`
	Database               string `xml:"Database"`
	AuthMode               string `xml:"AuthMode"`
	User                   string `xml:"User"`
	Password               string `xml:"Password"`
	TrustServerCertificate bool   `xml:"TrustServerCertificate"`
	TnsAlias               string `xml:"TnsAlias"`
	ConnectionString       string `xml:"ConnectionString"`
	TnsAdmin               string `xml:"TnsAdmin"`
}

func (c xmlConnection) toDescriptor() sources.ConnectionDescriptor {
	extra := map[string]string{}
	if c.TnsAlias != "" {
		extra["tnsAlias"] = c.TnsAlias
	}
	if c.ConnectionString != "" {
		extra["connectionString"] = c.ConnectionString
	}
	if c.TnsAdmin != "" {
		extra["tnsAdmin"] = c.TnsAdmin
	}
	authMode := sources.AuthMode(c.AuthMode)
	if authMode == "" {
		authMode = sources.AuthSqlAuth
	}
	return sources.ConnectionDescriptor{
		Provider:               sources.Provider(c.Provider),
		Host:                   c.Host,
		Port:                   c.Port,
		Database:               c.Database,
		AuthMode:               authMode,
		User:                   c.User,
		Password:               c.Password,
		TrustServerCertificate: c.TrustServerCertificate,
		Extra:                  extra,
	}
}

type xmlSimpleMapping struct {
	SourceColumn     string `xml:"SourceColumn,attr"`
	TargetColumn     string `xml:"TargetColumn,attr"`
	SourceDateFormat string `xml:"SourceDateFormat,attr,omitempty"`
}

type xmlTableEntry struct {
	Order          int                `xml:"Order,attr"`
	Included       bool               `xml:"Included,attr"`
	TableMapFile   string             `xml:"TableMapFile,attr,omitempty"`
	SourceSchema   string             `xml:"SourceSchema"`
	SourceTable    string             `xml:"SourceTable"`
	TargetSchema   string             `xml:"TargetSchema"`
	TargetTable    string             `xml:"TargetTable"`
	BatchColumn    string             `xml:"BatchColumn"`
	SimpleMappings []xmlSimpleMapping `xml:"SimpleMappings>Mapping"`
}

type xmlMasterConfig struct {
	XMLName             xml.Name        `xml:"MasterConfig"`
	MigrationName       string          `xml:"MigrationName"`
	BatchSize           int             `xml:"BatchSize"`
	QueryTimeoutSeconds int             `xml:"QueryTimeoutSeconds"`
	SourceConnection    xmlConnection   `xml:"SourceConnection"`
	TargetConnection    xmlConnection   `xml:"TargetConnection"`
	Tables              []xmlTableEntry `xml:"Tables>Table"`
}

type xmlPart struct {
	Column  string `xml:"column,attr,omitempty"`
	Literal string `xml:"literal,attr,omitempty"`
}

type xmlSplitTarget struct {
	Index  int    `xml:"index,attr"`
	Column string `xml:"column,attr"`
}

type xmlLookupEntry struct {
	Key   string `xml:"key,attr"`
	Value string `xml:"value,attr"`
}

type xmlValueSpec struct {
	Literal string `xml:"Literal,omitempty"`
	Column  string `xml:"Column,omitempty"`
	Func    string `xml:"Function,omitempty"`
}

func (v xmlValueSpec) toValueSpec() ValueSpec {
	switch {
	case v.Column != "":
		return ValueSpec{Column: v.Column, IsColumn: true}
	case v.Func != "":
		return ValueSpec{StaticFunc: v.Func, IsStaticFunc: true}
	default:
		return ValueSpec{Literal: v.Literal}
	}
}

// xmlWhen embeds xmlValueSpec anonymously so Literal/Column/Function parse
// as direct children of <When>, not nested under a further wrapper element.
type xmlWhen struct {
	Predicate string `xml:"predicate,attr"`
	xmlValueSpec
}

type xmlSimpleTr struct {
	Src         string  `xml:"src,attr"`
	Tgt         string  `xml:"tgt,attr"`
	NullDefault *string `xml:"nullDefault,attr"`
}

type xmlConcatTr struct {
	Tgt         string    `xml:"tgt,attr"`
	NullDefault *string   `xml:"nullDefault,attr"`
	Parts       []xmlPart `xml:"Part"`
}

type xmlSplitTr struct {
	Src       string           `xml:"src,attr"`
	Delimiter string           `xml:"delimiter,attr"`
	Targets   []xmlSplitTarget `xml:"Target"`
}

type xmlLookupTr struct {
	Src         string           `xml:"src,attr"`
	Tgt         string           `xml:"tgt,attr"`
	Default     *string          `xml:"default,attr"`
	NullDefault *string          `xml:"nullDefault,attr"`
	Entries     []xmlLookupEntry `xml:"Entry"`
}

type xmlCalculatedTr struct {
	Expression  string  `xml:"expression,attr"`
	Tgt         string  `xml:"tgt,attr"`
	NullDefault *string `xml:"nullDefault,attr"`
}

type xmlStaticTr struct {
	Tgt      string `xml:"tgt,attr"`
	Literal  string `xml:"literal,attr"`
	Function string `xml:"function,attr"`
}

type xmlConditionalTr struct {
	Tgt   string        `xml:"tgt,attr"`
	Whens []xmlWhen     `xml:"When"`
	Else  *xmlValueSpec `xml:"Else"`
}

type xmlConvertTr struct {
	Src          string  `xml:"src,attr"`
	Tgt          string  `xml:"tgt,attr"`
	TargetType   string  `xml:"targetType,attr"`
	SourceFormat string  `xml:"sourceFormat,attr"`
	NullDefault  *string `xml:"nullDefault,attr"`
}

type xmlKeyLookupTr struct {
	Src             string  `xml:"src,attr"`
	Tgt             string  `xml:"tgt,attr"`
	ParentTable     string  `xml:"parentTable,attr"`
	ParentKeyColumn string  `xml:"parentKeyColumn,attr"`
	NullDefault     *string `xml:"nullDefault,attr"`
}

// xmlTransformations decodes the <Transformations> element into the logical
// program directly, walking child elements in document order so the
// evaluator's "apply each transformation in declaration order" rule holds
// even when variants are interleaved in the file.
type xmlTransformations struct {
	Program []Transformation
}

func (x *xmlTransformations) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			tr, err := decodeTransformation(d, el)
			if err != nil {
				return err
			}
			x.Program = append(x.Program, tr)
		case xml.EndElement:
			if el.Name == start.Name {
				return nil
			}
		}
	}
}

func decodeTransformation(d *xml.Decoder, el xml.StartElement) (Transformation, error) {
	switch el.Name.Local {
	case "Simple":
		var v xmlSimpleTr
		if err := d.DecodeElement(&v, &el); err != nil {
			return Transformation{}, err
		}
		return Transformation{Kind: TransformSimple, Source: v.Src, Target: v.Tgt, NullDefault: v.NullDefault}, nil
	case "Concat":
		var v xmlConcatTr
		if err := d.DecodeElement(&v, &el); err != nil {
			return Transformation{}, err
		}
		parts := make([]ConcatPart, len(v.Parts))
		for i, p := range v.Parts {
			if p.Column != "" {
				parts[i] = ConcatPart{Column: p.Column, IsColumn: true}
			} else {
				parts[i] = ConcatPart{Literal: p.Literal}
			}
		}
		return Transformation{Kind: TransformConcat, Target: v.Tgt, NullDefault: v.NullDefault, ConcatParts: parts}, nil
	case "Split":
		var v xmlSplitTr
		if err := d.DecodeElement(&v, &el); err != nil {
			return Transformation{}, err
		}
		targets := make([]SplitTarget, len(v.Targets))
		for i, tg := range v.Targets {
			targets[i] = SplitTarget{Index: tg.Index, Column: tg.Column}
		}
		return Transformation{Kind: TransformSplit, Source: v.Src, SplitDelimiter: v.Delimiter, SplitTargets: targets}, nil
	case "Lookup":
		var v xmlLookupTr
		if err := d.DecodeElement(&v, &el); err != nil {
			return Transformation{}, err
		}
		table := make(map[string]string, len(v.Entries))
		for _, e := range v.Entries {
			table[e.Key] = e.Value
		}
		return Transformation{
			Kind: TransformLookup, Source: v.Src, Target: v.Tgt,
			LookupTable: table, LookupDefault: v.Default, NullDefault: v.NullDefault,
		}, nil
	case "Calculated":
		var v xmlCalculatedTr
		if err := d.DecodeElement(&v, &el); err != nil {
			return Transformation{}, err
		}
		return Transformation{Kind: TransformCalculated, Target: v.Tgt, Expression: v.Expression, NullDefault: v.NullDefault}, nil
	case "Static":
		var v xmlStaticTr
		if err := d.DecodeElement(&v, &el); err != nil {
			return Transformation{}, err
		}
		return Transformation{Kind: TransformStatic, Target: v.Tgt, StaticLiteral: v.Literal, StaticFunction: v.Function}, nil
	case "Conditional":
		var v xmlConditionalTr
		if err := d.DecodeElement(&v, &el); err != nil {
			return Transformation{}, err
		}
		whens := make([]ConditionalWhen, len(v.Whens))
		for i, w := range v.Whens {
			whens[i] = ConditionalWhen{Predicate: w.Predicate, ValueSpec: w.xmlValueSpec.toValueSpec()}
		}
		tr := Transformation{Kind: TransformConditional, Target: v.Tgt, Whens: whens}
		if v.Else != nil {
			spec := v.Else.toValueSpec()
			tr.Else = &spec
		}
		return tr, nil
	case "Convert":
		var v xmlConvertTr
		if err := d.DecodeElement(&v, &el); err != nil {
			return Transformation{}, err
		}
		return Transformation{
			Kind: TransformConvert, Source: v.Src, Target: v.Tgt, TargetType: v.TargetType,
			SourceDateFormat: v.SourceFormat, NullDefault: v.NullDefault,
		}, nil
	case "KeyLookup":
		var v xmlKeyLookupTr
		if err := d.DecodeElement(&v, &el); err != nil {
			return Transformation{}, err
		}
		return Transformation{
			Kind: TransformKeyLookup, Source: v.Src, Target: v.Tgt,
			KeyMapParentTable: v.ParentTable, KeyMapParentKeyColumn: v.ParentKeyColumn,
			NullDefault: v.NullDefault,
		}, nil
	default:
		return Transformation{}, fmt.Errorf("unknown transformation element <%s>", el.Name.Local)
	}
}

type xmlTableMap struct {
	XMLName            xml.Name           `xml:"TableMap"`
	SourceSchema       string             `xml:"SourceSchema"`
	SourceTable        string             `xml:"SourceTable"`
	TargetSchema       string             `xml:"TargetSchema"`
	TargetTable        string             `xml:"TargetTable"`
	IdentityMode       string             `xml:"IdentityMode"`
	IdentityColumn     string             `xml:"IdentityColumn"`
	ExistingDataAction string             `xml:"ExistingDataAction"`
	Transformations    xmlTransformations `xml:"Transformations"`
}

// LoadMasterConfig reads the master config and every table-map file it
// references (relative to the master config's own directory), merging them
// into a MigrationPlan. It does not perform structural validation; call
// Validate on the result.
func LoadMasterConfig(path string) (MigrationPlan, []error) {
	var doc xmlMasterConfig
	if err := decodeFile(path, &doc); err != nil {
		return MigrationPlan{}, []error{err}
	}

	baseDir := filepath.Dir(path)
	plan := MigrationPlan{
		MigrationName:    doc.MigrationName,
		BatchSize:        doc.BatchSize,
		QueryTimeout:     time.Duration(doc.QueryTimeoutSeconds) * time.Second,
		SourceConnection: doc.SourceConnection.toDescriptor(),
		TargetConnection: doc.TargetConnection.toDescriptor(),
		KeyRemapRequired: map[string]bool{},
	}
	// every database operation carries the configured query timeout, so the
	// timeout rides the descriptor into each dialect's adapter.
	plan.SourceConnection.QueryTimeout = plan.QueryTimeout
	plan.TargetConnection.QueryTimeout = plan.QueryTimeout

	var errs []error
	for _, te := range doc.Tables {
		job := TableJob{
			Order:              te.Order,
			Included:           te.Included,
			SourceSchema:       te.SourceSchema,
			SourceTable:        te.SourceTable,
			TargetSchema:       te.TargetSchema,
			TargetTable:        te.TargetTable,
			BatchColumn:        te.BatchColumn,
			ExistingDataAction: ActionAppend,
			IdentityMode:       IdentityPreserve,
		}
		for _, m := range te.SimpleMappings {
			job.SimpleMappings = append(job.SimpleMappings, SimpleMapping{
				SourceColumn:     m.SourceColumn,
				TargetColumn:     m.TargetColumn,
				SourceDateFormat: m.SourceDateFormat,
			})
		}

		if te.TableMapFile != "" {
			mapDoc, err := loadTableMap(filepath.Join(baseDir, te.TableMapFile))
			if err != nil {
				errs = append(errs, fmt.Errorf("table order %d: %w", te.Order, err))
				continue
			}
			applyTableMap(&job, mapDoc)
		}

		if job.IdentityMode == IdentityGenerate {
			plan.KeyRemapRequired[job.QualifiedSource()] = true
		}
		plan.Tables = append(plan.Tables, job)
	}

	return plan, errs
}

func loadTableMap(path string) (xmlTableMap, error) {
	var doc xmlTableMap
	if err := decodeFile(path, &doc); err != nil {
		return xmlTableMap{}, err
	}
	return doc, nil
}

func applyTableMap(job *TableJob, doc xmlTableMap) {
	if doc.SourceSchema != "" {
		job.SourceSchema = doc.SourceSchema
	}
	if doc.SourceTable != "" {
		job.SourceTable = doc.SourceTable
	}
	if doc.TargetSchema != "" {
		job.TargetSchema = doc.TargetSchema
	}
	if doc.TargetTable != "" {
		job.TargetTable = doc.TargetTable
	}
	if doc.IdentityMode != "" {
		job.IdentityMode = IdentityMode(doc.IdentityMode)
	}
	job.IdentityColumn = doc.IdentityColumn
	if doc.ExistingDataAction != "" {
		job.ExistingDataAction = ExistingDataAction(doc.ExistingDataAction)
	}

	job.Transformations = append(job.Transformations, doc.Transformations.Program...)
}

func decodeFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if err := xml.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
