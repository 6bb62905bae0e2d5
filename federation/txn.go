// Copyright 2026 The Hearth Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package federation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
)

// PDUResult is the per-event outcome inside a transaction response.
// Exactly one of Success or Error is meaningful.
type PDUResult struct {
	EventID string
	Success bool
	Error   string
}

// TransactionProcessor applies the PDU validator and persister to each
// event of an inbound federation transaction. A transaction is never
// atomic across its events: every PDU is attempted, each failure is
// captured in the results list, and partial success is correct
// behavior rather than an error condition.
type TransactionProcessor struct {
	validator   *Validator
	coordinator *Coordinator
	metrics     *engineMetrics
	logger      *slog.Logger
}

func NewTransactionProcessor(
	validator *Validator,
	coordinator *Coordinator,
	metrics *engineMetrics,
	logger *slog.Logger,
) *TransactionProcessor {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &TransactionProcessor{
		validator:   validator,
		coordinator: coordinator,
		metrics:     metrics,
		logger:      logger.With("component", "transaction"),
	}
}

// Process applies every PDU of the transaction and returns the full
// results list, one entry per supplied PDU in order. The batch is
// DAG-ordered first so causal parents are persisted before their
// children; persistence itself enforces no ordering.
func (p *TransactionProcessor) Process(
	ctx context.Context,
	origin string,
	txnID string,
	rawPDUs []json.RawMessage,
) []PDUResult {
	pdus := make([]*PDU, 0, len(rawPDUs))
	results := make([]PDUResult, 0, len(rawPDUs))
	for _, raw := range rawPDUs {
		pdu, err := DecodePDU(raw)
		if err != nil {
			// A PDU that does not even parse still gets a results
			// entry; its siblings proceed untouched.
			results = append(results, PDUResult{
				Error: AsError(err).Msg,
			})
			continue
		}
		if pdu.Origin == "" {
			pdu.Origin = origin
		}
		pdus = append(pdus, pdu)
	}
	for _, pdu := range Order(pdus) {
		result := PDUResult{EventID: pdu.EventID}
		if err := p.applyPDU(ctx, pdu); err != nil {
			result.Error = AsError(err).Msg
			p.logger.Error(
				"failed to apply PDU",
				"txn_id", txnID,
				"origin", origin,
				"event_id", pdu.EventID,
				"error", err,
			)
		} else {
			result.Success = true
		}
		if p.metrics != nil {
			p.metrics.observePDU(result.Success)
		}
		results = append(results, result)
	}
	if p.metrics != nil {
		p.metrics.transactionsTotal.Inc()
	}
	p.logger.Info(
		"processed transaction",
		"txn_id", txnID,
		"origin", origin,
		"pdus", len(rawPDUs),
	)
	return results
}

// applyPDU persists one event. Member events route through the
// membership coordinator so the projection stays current; everything
// else goes straight to the validator and persister.
func (p *TransactionProcessor) applyPDU(ctx context.Context, pdu *PDU) error {
	if pdu.Type == EventTypeMember && pdu.IsState() {
		return p.coordinator.ApplyMemberEvent(ctx, pdu)
	}
	_, err := p.validator.ValidateAndPersist(ctx, pdu)
	return err
}
