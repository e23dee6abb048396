// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sshexec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Node-side scripts print human-readable progress lines, then a
// single machine-readable JSON block between these markers.
const (
	ResultBegin = "-----MPANEL RESULT-----"
	ResultEnd   = "-----END MPANEL RESULT-----"
)

// ParseResult extracts the sentinel-delimited JSON block from a
// remote command's stdout and decodes it into v. If more than one
// block is present (e.g. a wrapper script re-runs a step), the last
// one wins.
func ParseResult(stdout []byte, v interface{}) error {
	begin := bytes.LastIndex(stdout, []byte(ResultBegin))
	if begin < 0 {
		return fmt.Errorf("no %q marker in remote output", ResultBegin)
	}
	rest := stdout[begin+len(ResultBegin):]
	end := bytes.Index(rest, []byte(ResultEnd))
	if end < 0 {
		return fmt.Errorf("no %q marker in remote output", ResultEnd)
	}
	block := bytes.TrimSpace(rest[:end])
	if err := json.Unmarshal(block, v); err != nil {
		return fmt.Errorf("error decoding remote result block: %w", err)
	}
	return nil
}
