package push

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
)

// Envelope is the signed wire shape of one batch:
// {"appid": ..., "sign": ..., "data": [...]}.
//
// The signature covers only the credential pair, not the payload, so it
// authenticates the sender without protecting payload integrity.
type Envelope struct {
	AppID string          `json:"appid"`
	Sign  string          `json:"sign"`
	Data  []recordPayload `json:"data"`
}

type recordPayload struct {
	DetectNo     string            `json:"detect_no"`
	Status       string            `json:"status"`
	ReportPath   string            `json:"report_path"`
	ReportReason string            `json:"report_reason,omitempty"`
	Ext          map[string]string `json:"ext,omitempty"`
}

// Sign computes the envelope signature: the hex MD5 of the deterministic
// concatenation "appid=<appid>&appsecret=<secret>".
func Sign(appID, appSecret string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("appid=%s&appsecret=%s", appID, appSecret)))
	return hex.EncodeToString(sum[:])
}

// newEnvelope wraps a validated batch in a signed envelope, preserving
// record order. The payload carries the escaped appid while the signature
// covers the raw value.
func newEnvelope(appID, appSecret string, batch []Record) Envelope {
	data := make([]recordPayload, 0, len(batch))
	for _, r := range batch {
		data = append(data, recordPayload{
			DetectNo:     r.DetectNo,
			Status:       r.Status,
			ReportPath:   r.ReportPath,
			ReportReason: r.ReportReason,
			Ext:          r.Ext,
		})
	}
	return Envelope{
		AppID: url.QueryEscape(appID),
		Sign:  Sign(appID, appSecret),
		Data:  data,
	}
}
