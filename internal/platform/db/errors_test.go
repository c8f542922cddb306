package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestPgErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert kit: %w", &pgconn.PgError{Code: "23505", ConstraintName: "takehome_kits_order_day_key"})
	fk := &pgconn.PgError{Code: "23503"}
	check := &pgconn.PgError{Code: "23514"}

	if !IsUniqueViolation(unique) || IsUniqueViolation(fk) {
		t.Error("unique violation misclassified")
	}
	if ConstraintName(unique) != "takehome_kits_order_day_key" {
		t.Errorf("unexpected constraint name %q", ConstraintName(unique))
	}
	if !IsForeignKeyViolation(fk) || IsForeignKeyViolation(check) {
		t.Error("foreign key violation misclassified")
	}
	if !IsCheckViolation(check) {
		t.Error("check violation misclassified")
	}
	if IsUniqueViolation(errors.New("plain")) || ConstraintName(errors.New("plain")) != "" {
		t.Error("plain errors must not classify")
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("get hold: %w", pgx.ErrNoRows)) {
		t.Error("expected wrapped ErrNoRows to match")
	}
	if IsNoRows(errors.New("boom")) {
		t.Error("unexpected match")
	}
}
