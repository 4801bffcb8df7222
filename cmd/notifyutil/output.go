// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
)

// event is one line of output.
type event struct {
	Name    string  `json:"name"`
	Token   int32   `json:"token,omitempty"`
	State   *uint64 `json:"state,omitempty"`
	Posted  *bool   `json:"posted,omitempty"`
	Message string  `json:"message,omitempty"`
}

// printer writes events as JSON lines or as aligned text.
type printer struct {
	w    io.Writer
	json bool
}

func (p *printer) print(e event) error {
	if p.json {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(p.w, "%s\n", data)
		return err
	}

	var err error
	switch {
	case e.State != nil:
		_, err = fmt.Fprintf(p.w, "%s\t%d\n", e.Name, *e.State)
	case e.Posted != nil && *e.Posted:
		_, err = fmt.Fprintf(p.w, "%s\tposted\n", e.Name)
	case e.Posted != nil:
		_, err = fmt.Fprintf(p.w, "%s\tnot posted\n", e.Name)
	case e.Token != 0:
		_, err = fmt.Fprintf(p.w, "%s\twoke token %d\n", e.Name, e.Token)
	default:
		_, err = fmt.Fprintf(p.w, "%s\t%s\n", e.Name, e.Message)
	}
	return err
}
