package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type recurrencePayload struct {
	Frequency string `json:"frequency" validate:"required,oneof=minutes hours days weeks months"`
	Interval  int    `json:"interval" validate:"gte=1"`
}

type draftPayload struct {
	RecipientID string             `json:"recipient_id" validate:"notblank"`
	Channel     string             `json:"channel" validate:"required"`
	Recurrence  *recurrencePayload `json:"recurrence" validate:"omitempty"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := draftPayload{
		RecipientID: "donor-1",
		Channel:     "email",
		Recurrence:  &recurrencePayload{Frequency: "days", Interval: 1},
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := draftPayload{
		RecipientID: "   ",
		Recurrence:  &recurrencePayload{Frequency: "fortnights", Interval: 0},
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(vErrs) != 4 {
		t.Fatalf("expected 4 failures, got %d: %v", len(vErrs), vErrs)
	}

	tags := map[string]string{}
	for _, fe := range vErrs {
		tags[fe.Field] = fe.Tag
	}
	if tags["draftPayload.recipient_id"] != "notblank" {
		t.Fatalf("expected notblank failure on recipient_id, got %v", tags)
	}
	if tags["draftPayload.recurrence.frequency"] != "oneof" {
		t.Fatalf("expected oneof failure on frequency, got %v", tags)
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("always_false", func(fl validator.FieldLevel) bool { return false })
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type sample struct {
		Value string `validate:"always_false"`
	}
	if err := ValidateStruct(sample{Value: "x"}); err == nil {
		t.Fatal("expected custom rule to fail")
	}
}
