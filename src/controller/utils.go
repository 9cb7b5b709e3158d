package controller

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"
	"time"

	logger "github.com/sirupsen/logrus"

	"rektbot/src/model"
	"rektbot/src/repository"
)

const serviceName = "rektbot"

// Fault locates an unexpected error in the order pipeline.
type Fault struct {
	Module  string
	Method  string
	OrderID string
	Fields  map[string]interface{}
}

func faultLevel(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "warn"
	}
	return "error"
}

// Capture logs err and, when repo is set, stores it with the current stack
// so that operators can inspect it after the fact.
func Capture(ctx context.Context, repo *repository.ExceptionRepository, log *logger.Entry, fault Fault, err error) {
	if err == nil {
		return
	}
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}

	var ctxJSON string
	if len(fault.Fields) > 0 {
		if b, e := json.Marshal(fault.Fields); e == nil {
			ctxJSON = string(b)
		}
	}

	exc := &model.Exception{
		Service:   serviceName,
		Module:    fault.Module,
		Method:    fault.Method,
		OrderID:   fault.OrderID,
		Message:   err.Error(),
		Stack:     string(debug.Stack()),
		Level:     faultLevel(err),
		Context:   ctxJSON,
		CreatedAt: time.Now(),
	}

	entry := log.WithFields(map[string]interface{}{
		"module": fault.Module,
		"method": fault.Method,
	}).WithFields(fault.Fields).WithError(err)
	if fault.OrderID != "" {
		entry = entry.WithField("order_id", fault.OrderID)
	}
	if exc.Level == "warn" {
		entry.Warn("order pipeline interrupted")
	} else {
		entry.Error("System exception captured")
	}

	if repo == nil {
		return
	}
	// the caller's context may be the one that just got cancelled
	if e := repo.Create(context.WithoutCancel(ctx), exc); e != nil {
		log.WithError(e).Error("Failed to persist exception")
	}
}
