// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/archipelago/pkg/validation"
)

// MaxPayloadBytes is the maximum serialized size of a published payload.
// Oversized payloads are rejected before they reach storage.
const MaxPayloadBytes = 256 * 1024 // 256KB

// recordValidate is the validator instance for sync node datatypes.
// Initialized in init() with custom validators.
var recordValidate *validator.Validate

func init() {
	recordValidate = validator.New()

	_ = recordValidate.RegisterValidation("soul", validateSoulTag)
	_ = recordValidate.RegisterValidation("recordtype", validateRecordTypeTag)
}

// validateSoulTag adapts pkg/validation soul checking to a validator tag.
func validateSoulTag(fl validator.FieldLevel) bool {
	return validation.ValidateSoul(fl.Field().String()) == nil
}

// validateRecordTypeTag adapts pkg/validation record-type checking to a
// validator tag.
func validateRecordTypeTag(fl validator.FieldLevel) bool {
	return validation.ValidateRecordType(fl.Field().String()) == nil
}

// PublishRequest is the body of POST /v1/records, the path by which this
// node's own records enter its store and registry.
//
// Soul is optional: when omitted, a content-addressed soul is derived from
// the payload. When provided (republishing), it must be a valid soul.
type PublishRequest struct {
	Soul       string                 `json:"soul" validate:"omitempty,soul"`
	RecordType string                 `json:"recordType" validate:"required,recordtype"`
	Payload    map[string]interface{} `json:"payload" validate:"required"`
	Encrypted  bool                   `json:"encrypted"`
}

// Validate validates the PublishRequest fields after JSON binding.
func (r *PublishRequest) Validate() error {
	return recordValidate.Struct(r)
}

// EnsureDefaults fills in derived fields.
//
// When no soul was supplied, one is derived from the canonical JSON form of
// the payload, so the same content always publishes under the same soul.
// The record-type tag is also stamped into the payload envelope if absent.
func (r *PublishRequest) EnsureDefaults() {
	if r.Payload == nil {
		r.Payload = map[string]interface{}{}
	}
	if _, ok := r.Payload[PayloadKeyRecordType]; !ok {
		r.Payload[PayloadKeyRecordType] = r.RecordType
	}
	if r.Soul == "" {
		r.Soul = ContentSoul(r.Payload)
	}
}

// ContentSoul derives a content-addressed soul for a payload.
// encoding/json sorts map keys, so the derivation is deterministic for
// equal content.
func ContentSoul(payload map[string]interface{}) string {
	data, err := json.Marshal(payload)
	if err != nil {
		// Maps built from decoded JSON always re-marshal; a failure here
		// means a non-JSON value was injected programmatically.
		data = []byte(time.Now().UTC().String())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PublishResponse is returned by POST /v1/records.
type PublishResponse struct {
	Soul       string `json:"soul"`
	DID        string `json:"did"`
	RecordType string `json:"recordType"`
	Announced  bool   `json:"announced"`
}

// SearchRequest carries the query parameters of GET /v1/records/search.
type SearchRequest struct {
	Query      string `form:"q" validate:"required,max=1024"`
	RecordType string `form:"type" validate:"omitempty,recordtype"`
	Limit      int    `form:"limit" validate:"gte=0,lte=100"`
}

// Validate validates the SearchRequest fields after binding.
func (r *SearchRequest) Validate() error {
	return recordValidate.Struct(r)
}

// SearchHit is one search result document.
type SearchHit struct {
	DID        string                 `json:"did"`
	Soul       string                 `json:"soul"`
	RecordType string                 `json:"recordType"`
	Properties map[string]interface{} `json:"properties"`
}

// SearchResponse is returned by GET /v1/records/search.
type SearchResponse struct {
	Count   int         `json:"count"`
	Results []SearchHit `json:"results"`
}
