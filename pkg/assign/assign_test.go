package assign

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindKeys(t *testing.T) {
	if KindTask.Queue() != "queue:tasks" || KindUser.Queue() != "queue:users" {
		t.Errorf("Unexpected queue keys: %s, %s", KindTask.Queue(), KindUser.Queue())
	}
	if KindTask.DLQ() != "dlq:tasks" || KindUser.DLQ() != "dlq:users" {
		t.Errorf("Unexpected DLQ keys: %s, %s", KindTask.DLQ(), KindUser.DLQ())
	}
	if KindTask.RetryKey("t1") != "retry:task:t1" {
		t.Errorf("Unexpected retry key: %s", KindTask.RetryKey("t1"))
	}
	if KindUser.RetryKey("u1") != "retry:user:u1" {
		t.Errorf("Unexpected retry key: %s", KindUser.RetryKey("u1"))
	}
	if Kind("widget").Valid() {
		t.Error("Expected unknown kind to be invalid")
	}
}

func TestClassify(t *testing.T) {
	cause := errors.New("boom")

	if kind := Classify(UserErr(cause)); kind != ErrorUser {
		t.Errorf("Expected USER_ERROR, got %s", kind)
	}
	if kind := Classify(TaskErr(cause)); kind != ErrorTask {
		t.Errorf("Expected TASK_ERROR, got %s", kind)
	}
	if kind := Classify(cause); kind != ErrorUnknown {
		t.Errorf("Expected UNKNOWN for a plain error, got %s", kind)
	}

	// Classification survives wrapping.
	wrapped := fmt.Errorf("assignment failed: %w", TaskErr(cause))
	if kind := Classify(wrapped); kind != ErrorTask {
		t.Errorf("Expected TASK_ERROR through wrapping, got %s", kind)
	}
}

func TestClassifyNeverInventsAttribution(t *testing.T) {
	// An *Error carrying a code outside the closed set collapses to
	// Unknown rather than being trusted.
	err := &Error{Kind: ErrorKind("DISK_ERROR")}
	if kind := Classify(err); kind != ErrorUnknown {
		t.Errorf("Expected UNKNOWN for out-of-set code, got %s", kind)
	}
}

func TestParseErrorKind(t *testing.T) {
	if ParseErrorKind("USER_ERROR") != ErrorUser {
		t.Error("Expected USER_ERROR to parse")
	}
	if ParseErrorKind("TASK_ERROR") != ErrorTask {
		t.Error("Expected TASK_ERROR to parse")
	}
	if ParseErrorKind("whatever") != ErrorUnknown {
		t.Error("Expected unrecognized code to collapse to UNKNOWN")
	}
}

func TestNewJob(t *testing.T) {
	a := NewJob("t1", "u1")
	b := NewJob("t1", "u1")

	if a.TaskID != "t1" || a.UserID != "u1" {
		t.Errorf("Unexpected pair: %+v", a)
	}
	// Each dispatch is a distinct job, even for the same pairing.
	if a.ID == b.ID {
		t.Error("Expected distinct job IDs per dispatch")
	}
	if a.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set")
	}
}
