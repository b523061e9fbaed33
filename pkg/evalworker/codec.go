package evalworker

import (
	"encoding/json"

	"github.com/caster-hub/validator-core/pkg/batch"
	"github.com/caster-hub/validator-core/pkg/receipts"
	"github.com/caster-hub/validator-core/pkg/runtime"
)

// claimPayloadBody is the wire shape posted to a candidate's /entry/claim
// handler (spec §6's POST /entry/{entrypoint_name}).
type claimPayloadBody struct {
	ClaimID         string                 `json:"claim_id"`
	Text            string                 `json:"text"`
	Rubric          batch.Rubric           `json:"rubric"`
	ReferenceAnswer interface{}            `json:"reference_answer,omitempty"`
	Context         map[string]interface{} `json:"context,omitempty"`
}

func claimPayload(claim *batch.Claim) []byte {
	body := claimPayloadBody{
		ClaimID: claim.ClaimID,
		Text:    claim.Text,
		Rubric:  claim.Rubric,
		Context: claim.Context,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		// claimPayloadBody is built entirely from already-validated
		// BatchSpec fields; a marshal failure here means the process
		// itself is broken, not that the input was bad.
		panic(runtime.Wrap(runtime.ErrFatalInvariant, err, "marshaling claim payload"))
	}
	return raw
}

// minerAnswerWire is the JSON shape a candidate's entrypoint returns
// (spec §4.10 step 2: "capture MinerAnswer{verdict, justification,
// citations}").
type minerAnswerWire struct {
	Verdict       int                 `json:"verdict"`
	Justification string              `json:"justification"`
	Citations     []receiptsCitation  `json:"citations"`
}

type receiptsCitation struct {
	ReceiptID string `json:"receipt_id"`
	ResultID  string `json:"result_id"`
	URL       string `json:"url,omitempty"`
	Note      string `json:"note,omitempty"`
}

func parseMinerAnswer(raw []byte) (MinerAnswer, error) {
	var wire minerAnswerWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return MinerAnswer{}, runtime.Wrap(runtime.ErrMalformedRequest, err, "decoding miner answer")
	}
	out := MinerAnswer{Verdict: wire.Verdict, Justification: wire.Justification}
	for _, c := range wire.Citations {
		out.Citations = append(out.Citations, receipts.Citation{
			ReceiptID: c.ReceiptID, ResultID: c.ResultID, URL: c.URL, Note: c.Note,
		})
	}
	return out, nil
}
