package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sitekeeper/internal/logging"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RunLogger provides structured logging for one backup or recovery run with
// a correlation ID and an optional JSON audit trail
type RunLogger struct {
	logger      *logging.Logger
	auditLogger *logrus.Logger
	auditFile   *os.File
	runID       string
}

// RunLoggerConfig holds configuration for run logging
type RunLoggerConfig struct {
	Logger       *logging.Logger
	AuditLogFile string
	RunID        string
}

// AuditLogEntry is one line of the audit trail
type AuditLogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id"`
	Pipeline  string                 `json:"pipeline"`
	Action    string                 `json:"action"`
	Result    string                 `json:"result"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NewRunLogger creates a run logger. The audit log is enabled when
// AuditLogFile is set.
func NewRunLogger(config RunLoggerConfig) (*RunLogger, error) {
	runID := config.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	rl := &RunLogger{
		logger: logger,
		runID:  runID,
	}

	if config.AuditLogFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.AuditLogFile), 0755); err != nil {
			return rl, fmt.Errorf("failed to create audit log directory: %w", err)
		}

		auditFile, err := os.OpenFile(config.AuditLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return rl, fmt.Errorf("failed to open audit log file: %w", err)
		}

		auditLogger := logrus.New()
		auditLogger.SetOutput(auditFile)
		auditLogger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
		auditLogger.SetLevel(logrus.InfoLevel)

		rl.auditLogger = auditLogger
		rl.auditFile = auditFile
	}

	return rl, nil
}

// RunID returns the correlation ID of the run
func (rl *RunLogger) RunID() string {
	return rl.runID
}

// Context returns ctx carrying the run ID
func (rl *RunLogger) Context(ctx context.Context) context.Context {
	return logging.CreateContextWithRunID(ctx, rl.runID)
}

// LogRunStart logs the start of a pipeline run and returns a function to
// log its outcome
func (rl *RunLogger) LogRunStart(ctx context.Context, pipeline string, details map[string]interface{}) func(error, map[string]interface{}) {
	startTime := time.Now()

	fields := rl.fields(pipeline, details)
	rl.logger.WithFields(fields).Infof("Starting %s", pipeline)
	rl.logAudit(pipeline, "run", "started", details)

	return func(err error, result map[string]interface{}) {
		duration := time.Since(startTime)
		fields := rl.fields(pipeline, result)
		fields["duration"] = duration.String()

		outcome := "success"
		if err != nil {
			outcome = "failure"
			fields["error"] = err.Error()
			rl.logger.WithFields(fields).Errorf("%s failed", pipeline)
		} else {
			rl.logger.WithFields(fields).Infof("%s completed", pipeline)
		}

		auditDetails := make(map[string]interface{}, len(result)+2)
		for k, v := range result {
			auditDetails[k] = v
		}
		auditDetails["duration_ms"] = duration.Milliseconds()
		if err != nil {
			auditDetails["error"] = err.Error()
		}
		rl.logAudit(pipeline, "run", outcome, auditDetails)
	}
}

// LogPhase records a phase transition
func (rl *RunLogger) LogPhase(pipeline, phase string) {
	rl.logger.LogPhase(pipeline, phase)
	rl.logAudit(pipeline, "phase", phase, nil)
}

// Close closes the audit log file
func (rl *RunLogger) Close() error {
	if rl.auditFile == nil {
		return nil
	}
	err := rl.auditFile.Close()
	rl.auditFile = nil
	rl.auditLogger = nil
	return err
}

func (rl *RunLogger) fields(pipeline string, extra map[string]interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(extra)+2)
	for k, v := range extra {
		fields[k] = v
	}
	fields["run_id"] = rl.runID
	fields["pipeline"] = pipeline
	return fields
}

func (rl *RunLogger) logAudit(pipeline, action, result string, details map[string]interface{}) {
	if rl.auditLogger == nil {
		return
	}

	entry := AuditLogEntry{
		Timestamp: time.Now(),
		RunID:     rl.runID,
		Pipeline:  pipeline,
		Action:    action,
		Result:    result,
		Details:   details,
	}

	fields := logrus.Fields{
		"run_id":   entry.RunID,
		"pipeline": entry.Pipeline,
		"action":   entry.Action,
		"result":   entry.Result,
	}
	if len(entry.Details) > 0 {
		fields["details"] = entry.Details
	}
	rl.auditLogger.WithFields(fields).WithTime(entry.Timestamp).Info("audit")
}
