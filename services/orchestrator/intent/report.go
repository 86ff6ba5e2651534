// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intent

import (
	"context"
	"fmt"
	"regexp"
	"time"

	datafetcher "github.com/AleutianAI/zynk/services/data_fetcher"
	"github.com/AleutianAI/zynk/services/orchestrator/cache"
)

// PDFReportName is the metric and log name of the report middleware.
const PDFReportName = "pdf_report"

var reportPattern = regexp.MustCompile(`(?i)\b(?:pdf|informe|report)\b`)

// WantsReport reports whether the message asks for a PDF report.
func WantsReport(msg string) bool {
	return reportPattern.MatchString(msg)
}

// PDFReport generates a report from the chat's cached search result.
type PDFReport struct {
	generator datafetcher.ReportGenerator
	cache     cache.SearchCache
	timeout   time.Duration
}

// NewPDFReport creates the middleware. A zero timeout uses
// datafetcher.DefaultTimeout.
func NewPDFReport(generator datafetcher.ReportGenerator, c cache.SearchCache, timeout time.Duration) *PDFReport {
	if timeout <= 0 {
		timeout = datafetcher.DefaultTimeout
	}
	return &PDFReport{generator: generator, cache: c, timeout: timeout}
}

// Name implements Middleware.
func (p *PDFReport) Name() string { return PDFReportName }

// Handle implements Middleware.
func (p *PDFReport) Handle(ctx context.Context, turn Turn, emit Emit) (Result, error) {
	if !WantsReport(turn.Message) {
		return Result{}, nil
	}

	var data *datafetcher.VehicleSearchResult
	if p.cache != nil {
		cached, found, err := p.cache.Get(ctx, turn.ChatID)
		if err != nil {
			if emitErr := emit(narrate("Unexpected error while generating the PDF.")); emitErr != nil {
				return Result{}, emitErr
			}
			return Result{Handled: true}, fmt.Errorf("read search cache: %w", err)
		}
		if found {
			data = cached
		}
	}
	if data == nil {
		return Result{Handled: true}, emit(narrate("No recent search data. Try searching for a vehicle first."))
	}

	reportCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url, err := p.generator.Generate(reportCtx, data, turn.UserID)
	if err != nil {
		if emitErr := emit(narrate("There was a problem generating the PDF. Please try again.")); emitErr != nil {
			return Result{}, emitErr
		}
		return Result{Handled: true}, fmt.Errorf("generate report: %w", err)
	}

	return Result{Handled: true}, emit(narrate("PDF report ready! Download it here: %s", url))
}
