// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/AleutianProv/services/provenance/detect"
)

// RegisterMetrics registers the API collectors with reg: the live
// dictionary size, the stream subscriber count and a verdict counter.
func RegisterMetrics(reg prometheus.Registerer, h *Handlers) error {
	verdicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "provenance",
		Subsystem: "api",
		Name:      "verdicts_total",
		Help:      "Verdicts returned by the classify endpoint.",
	}, []string{"class", "reabsorbed"})

	collectors := []prometheus.Collector{
		verdicts,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "provenance",
			Name:      "dictionary_labels",
			Help:      "Labels in the active relabeling dictionary.",
		}, func() float64 {
			return float64(h.classifier.Dictionary().Size())
		}),
	}
	if h.hub != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "provenance",
			Subsystem: "api",
			Name:      "stream_clients",
			Help:      "Connected verdict stream subscribers.",
		}, func() float64 {
			return float64(h.hub.Clients())
		}))
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	h.onVerdict = func(v *detect.Verdict) {
		re := "false"
		if v.Reabsorbed {
			re = "true"
		}
		verdicts.WithLabelValues(string(v.Class), re).Inc()
	}
	return nil
}
