package main

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// RunReport collects the messages of one run. Warnings and errors are also
// accumulated into the error text sent by Flush.
type RunReport struct {
	log      *zap.Logger
	notifier Notifier
	subject  string

	lines   []string
	errText strings.Builder
	flushed bool
}

func NewRunReport(log *zap.Logger, notifier Notifier, subject string) *RunReport {
	return &RunReport{
		log:      log.Named("report"),
		notifier: notifier,
		subject:  subject,
	}
}

func (r *RunReport) Info(msg string, fields ...zap.Field) {
	r.log.Info(msg, fields...)
	r.lines = append(r.lines, msg)
}

func (r *RunReport) Warn(msg string, fields ...zap.Field) {
	r.log.Warn(msg, fields...)
	r.record(msg)
}

func (r *RunReport) Error(msg string, fields ...zap.Field) {
	r.log.Error(msg, fields...)
	r.record(msg)
}

func (r *RunReport) record(msg string) {
	r.lines = append(r.lines, msg)
	r.errText.WriteString(msg)
	r.errText.WriteByte('\n')
}

func (r *RunReport) Lines() []string {
	return append([]string(nil), r.lines...)
}

func (r *RunReport) ErrorText() string {
	return r.errText.String()
}

func (r *RunReport) HasErrors() bool {
	return r.errText.Len() > 0
}

// Flush sends the accumulated error text as a single notification. It does
// nothing when no error was recorded or when it already ran. A send failure is
// logged only.
func (r *RunReport) Flush(ctx context.Context) bool {
	if r.flushed || !r.HasErrors() {
		return false
	}

	r.flushed = true

	if r.notifier == nil {
		r.log.Warn("no notification channel configured, report not sent")
		return false
	}

	if err := r.notifier.Notify(ctx, r.subject, r.ErrorText()); err != nil {
		r.log.Error("send report", zap.Error(err))
		return false
	}

	r.log.Info("report sent")

	return true
}

// Abort records a fatal message and flushes the report.
func (r *RunReport) Abort(ctx context.Context, msg string, fields ...zap.Field) {
	r.Error(msg, fields...)
	r.Flush(ctx)
}
