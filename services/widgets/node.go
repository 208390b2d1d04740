// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package widgets builds the declarative UI trees rendered by the ChatKit
// frontend.
//
// A widget is a tree of Nodes. Each Node serialises to a flat JSON object
// holding its "type", optional "key", its props and its "children", which
// is the shape the frontend renderer expects:
//
//	{"type": "Card", "key": "flight_status", "padding": 0, "children": [...]}
package widgets

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Node types understood by the frontend.
const (
	TypeCard   = "Card"
	TypeBox    = "Box"
	TypeRow    = "Row"
	TypeCol    = "Col"
	TypeText   = "Text"
	TypeTitle  = "Title"
	TypeImage  = "Image"
	TypeButton = "Button"
)

// Props are the visual attributes of a Node (padding, gap, colours, ...).
type Props map[string]any

// Node is one element of a widget tree.
type Node struct {
	Type     string
	Key      string
	Props    Props
	Children []Node
}

// ActionConfig is a button's click action. Handler "server" routes the
// action to the backend's action endpoint.
type ActionConfig struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	Handler string         `json:"handler,omitempty"`
}

// MarshalJSON flattens props into the node object.
func (n Node) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(n.Props)+3)
	for k, v := range n.Props {
		obj[k] = v
	}
	obj["type"] = n.Type
	if n.Key != "" {
		obj["key"] = n.Key
	}
	if len(n.Children) > 0 {
		obj["children"] = n.Children
	}
	return json.Marshal(obj)
}

// UnmarshalJSON is the inverse of MarshalJSON. Prop values decode to their
// generic JSON types (float64, string, map[string]any, ...).
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Node
	if t, ok := raw["type"]; ok {
		if err := json.Unmarshal(t, &out.Type); err != nil {
			return fmt.Errorf("widget type: %w", err)
		}
		delete(raw, "type")
	}
	if out.Type == "" {
		return fmt.Errorf("widget node has no type")
	}
	if k, ok := raw["key"]; ok {
		if err := json.Unmarshal(k, &out.Key); err != nil {
			return fmt.Errorf("widget key: %w", err)
		}
		delete(raw, "key")
	}
	if c, ok := raw["children"]; ok {
		if err := json.Unmarshal(c, &out.Children); err != nil {
			return err
		}
		delete(raw, "children")
	}
	if len(raw) > 0 {
		out.Props = make(Props, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("widget prop %s: %w", k, err)
			}
			out.Props[k] = val
		}
	}
	*n = out
	return nil
}

// Card is the root of every widget.
func Card(key string, props Props, children ...Node) Node {
	return Node{Type: TypeCard, Key: key, Props: props, Children: children}
}

// Box is a styled container.
func Box(props Props, children ...Node) Node {
	return Node{Type: TypeBox, Props: props, Children: children}
}

// Row lays children out horizontally.
func Row(props Props, children ...Node) Node {
	return Node{Type: TypeRow, Props: props, Children: children}
}

// Col lays children out vertically.
func Col(props Props, children ...Node) Node {
	return Node{Type: TypeCol, Props: props, Children: children}
}

// Text is a run of body text.
func Text(value string, props Props) Node {
	return Node{Type: TypeText, Props: withProp(props, "value", value)}
}

// Title is a heading.
func Title(value string, props Props) Node {
	return Node{Type: TypeTitle, Props: withProp(props, "value", value)}
}

// Image shows src (usually a data URI) at a square size.
func Image(src, alt string, size int) Node {
	return Node{Type: TypeImage, Props: Props{"src": src, "alt": alt, "size": size, "fit": "contain"}}
}

// Button triggers action on click.
func Button(label string, action ActionConfig) Node {
	return Node{Type: TypeButton, Props: Props{
		"label":         label,
		"variant":       "outline",
		"size":          "md",
		"onClickAction": action,
	}}
}

func withProp(props Props, key string, value any) Props {
	out := make(Props, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	out[key] = value
	return out
}

// encodeSVG returns svg as a base64 data URI.
func encodeSVG(svg string) string {
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
}
