// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest converts PROV-JSON provenance records into the edge-list
// form the detector reads, and trims edge lists once their type stream
// stabilises.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/AleutianAI/AleutianProv/services/provenance/engine"
)

// typeName is a prov:type value. PROV-JSON allows either a bare string or a
// typed literal {"$": "...", "type": "..."}.
type typeName string

func (t *typeName) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = typeName(s)
		return nil
	}
	var lit struct {
		Value string `json:"$"`
	}
	if err := json.Unmarshal(data, &lit); err != nil {
		return err
	}
	*t = typeName(lit.Value)
	return nil
}

type node struct {
	Type typeName `json:"prov:type"`
}

type relation struct {
	Type            typeName `json:"prov:type"`
	Entity          string   `json:"prov:entity"`
	Activity        string   `json:"prov:activity"`
	Informant       string   `json:"prov:informant"`
	Informed        string   `json:"prov:informed"`
	UsedEntity      string   `json:"prov:usedEntity"`
	GeneratedEntity string   `json:"prov:generatedEntity"`
}

type document struct {
	Activity       map[string]node     `json:"activity"`
	Entity         map[string]node     `json:"entity"`
	Used           map[string]relation `json:"used"`
	WasGeneratedBy map[string]relation `json:"wasGeneratedBy"`
	WasInformedBy  map[string]relation `json:"wasInformedBy"`
	WasDerivedFrom map[string]relation `json:"wasDerivedFrom"`
}

// relationSection names a relation map and how its endpoints orient.
type relationSection struct {
	name      string
	relations func(*document) map[string]relation
	endpoints func(relation) (src, dst string)
}

var relationSections = []relationSection{
	{
		name:      "used",
		relations: func(d *document) map[string]relation { return d.Used },
		endpoints: func(r relation) (string, string) { return r.Entity, r.Activity },
	},
	{
		name:      "wasGeneratedBy",
		relations: func(d *document) map[string]relation { return d.WasGeneratedBy },
		endpoints: func(r relation) (string, string) { return r.Activity, r.Entity },
	},
	{
		name:      "wasInformedBy",
		relations: func(d *document) map[string]relation { return d.WasInformedBy },
		endpoints: func(r relation) (string, string) { return r.Informant, r.Informed },
	},
	{
		name:      "wasDerivedFrom",
		relations: func(d *document) map[string]relation { return d.WasDerivedFrom },
		endpoints: func(r relation) (string, string) { return r.UsedEntity, r.GeneratedEntity },
	},
}

// Result is the outcome of a PROV-JSON conversion.
type Result struct {
	// Graph holds one edge per accepted relation, typed with vocabulary ids.
	Graph *engine.Graph

	// Documents is the number of JSON objects read.
	Documents int

	// Vertices is the number of distinct node ids declared.
	Vertices int

	// Relations is the number of edges emitted.
	Relations int

	// Skipped counts relations naming an undeclared node.
	Skipped int

	// UnknownTypes counts prov:type names outside the vocabularies.
	UnknownTypes int
}

// vertexInfo is a declared node's dense id and type.
type vertexInfo struct {
	id  int
	typ VertexType
}

// Convert reads PROV-JSON and builds the typed provenance graph.
//
// Description:
//
//	The input is a stream of JSON objects, typically one per line. All
//	nodes are collected before any relation is resolved, so a relation
//	may name a node declared later in the stream. Node ids are numbered
//	densely in first-seen order: stream order, activities before entities,
//	and key order within a section. A repeated id keeps its first number
//	and type. Relations whose endpoints were never declared are skipped
//	with a warning.
//
// Inputs:
//
//	name - Graph name for logs.
//	r - PROV-JSON source.
//	logger - Receives skip and vocabulary warnings. May be nil.
//
// Outputs:
//
//	*Result - The graph and conversion counts.
//	error - ErrMalformedDocument on bad JSON, ErrEmptyDocument when no
//	relation survives.
func Convert(name string, r io.Reader, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("document", name))

	docs, err := decodeDocuments(r)
	if err != nil {
		return nil, err
	}

	res := &Result{Graph: engine.NewGraph(name), Documents: len(docs)}
	vertices := make(map[string]vertexInfo)

	declare := func(section string, nodes map[string]node) {
		for _, key := range slices.Sorted(maps.Keys(nodes)) {
			if _, dup := vertices[key]; dup {
				logger.Debug("node declared twice", slog.String("section", section), slog.String("id", key))
				continue
			}
			typ, known := ParseVertexType(string(nodes[key].Type))
			if !known {
				res.UnknownTypes++
				logger.Debug("unknown vertex type",
					slog.String("id", key),
					slog.String("type", string(nodes[key].Type)),
				)
			}
			vertices[key] = vertexInfo{id: len(vertices), typ: typ}
		}
	}
	for i := range docs {
		declare("activity", docs[i].Activity)
		declare("entity", docs[i].Entity)
	}
	res.Vertices = len(vertices)

	for i := range docs {
		for _, sec := range relationSections {
			rels := sec.relations(&docs[i])
			for _, key := range slices.Sorted(maps.Keys(rels)) {
				rel := rels[key]
				srcID, dstID := sec.endpoints(rel)
				src, okSrc := vertices[srcID]
				dst, okDst := vertices[dstID]
				// Dropped, not emitted with a zero-valued endpoint.
				if !okSrc || !okDst {
					res.Skipped++
					logger.Warn("relation references undeclared node",
						slog.String("section", sec.name),
						slog.String("relation", key),
						slog.String("source", srcID),
						slog.String("destination", dstID),
					)
					continue
				}
				// Unrecognized kinds become EdgeUnknown (13), never EdgeRead (0).
				kind, known := ParseEdgeType(string(rel.Type))
				if !known {
					res.UnknownTypes++
					logger.Debug("unknown edge type",
						slog.String("relation", key),
						slog.String("type", string(rel.Type)),
					)
				}
				label := engine.TypeLabel{
					Src:  engine.Slot{New: int(src.typ)},
					Dst:  engine.Slot{New: int(dst.typ)},
					Kind: int(kind),
				}
				if err := res.Graph.AddEdge(src.id, dst.id, label); err != nil {
					return nil, fmt.Errorf("%s: relation %s: %w", name, key, err)
				}
				res.Relations++
			}
		}
	}

	if res.Relations == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptyDocument)
	}
	logger.Info("prov document converted",
		slog.Int("documents", res.Documents),
		slog.Int("vertices", res.Vertices),
		slog.Int("edges", res.Relations),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}

// ConvertFile opens path and converts it with Convert.
func ConvertFile(path string, logger *slog.Logger) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prov document: %w", err)
	}
	defer f.Close()
	return Convert(filepath.Base(path), f, logger)
}

// WriteEdgeList writes the converted graph in edge-list form.
func (r *Result) WriteEdgeList(w io.Writer) error {
	return engine.WriteEdgeList(w, r.Graph)
}

func decodeDocuments(r io.Reader) ([]document, error) {
	dec := json.NewDecoder(r)
	var docs []document
	for {
		var doc document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w: %v", len(docs)+1, ErrMalformedDocument, err)
		}
		docs = append(docs, doc)
	}
}
