// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command provdetect learns normal provenance-graph behavior and flags
// anomalous graphs.
//
// Usage:
//
//	provdetect learn data/benign/*.txt
//	provdetect classify data/monitor/run42.txt
//	provdetect detect --nmonitor 2 data/*.txt
//	provdetect ingest trace.json -o trace.txt
//	provdetect ingest truncate trace.txt --threshold 500 -o trace.short.txt
//	provdetect watch data/incoming
//	provdetect serve --addr :8089
//	provdetect history --class anomalous
package main

import (
	"errors"
	"fmt"
	"os"
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	return e.msg
}

// exitAnomalous is returned by classify when any graph is anomalous.
const exitAnomalous = 3

func main() {
	err := rootCmd.Execute()
	if terr := teardown(); terr != nil {
		fmt.Fprintf(os.Stderr, "Warning: shutdown: %v\n", terr)
	}
	if err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(os.Stderr, ee.msg)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
