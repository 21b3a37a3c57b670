package whatsapp

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

const valueJSON = `{
  "messaging_product": "whatsapp",
  "metadata": {"display_phone_number": "15550001111", "phone_number_id": "875171289009578"},
  "contacts": [{"profile": {"name": "Alice"}, "wa_id": "15555555555"}],
  "messages": [{
    "from": "15555555555",
    "id": "wamid.ABC",
    "timestamp": "1700000000",
    "type": "text",
    "text": {"body": "hi"}
  }]
}`

func enveloped(value string) []byte {
	return []byte(`{"object":"whatsapp_business_account","entry":[{"id":"WABA","changes":[{"field":"messages","value":` + value + `}]}]}`)
}

func freezeNow(t *testing.T, at time.Time) {
	t.Helper()
	orig := nowFunc
	nowFunc = func() time.Time { return at }
	t.Cleanup(func() { nowFunc = orig })
}

func mustNormalize(t *testing.T, payload []byte) []Event {
	t.Helper()
	evs, err := Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	return evs
}

func TestNormalize_EnvelopeEquivalence(t *testing.T) {
	a := mustNormalize(t, enveloped(valueJSON))
	b := mustNormalize(t, []byte(valueJSON))
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("expected 1 event each, got %d and %d", len(a), len(b))
	}
	ea, eb := a[0], b[0]
	if ea.MessageID != eb.MessageID || ea.ConversationID != eb.ConversationID || ea.TextBody != eb.TextBody ||
		!ea.Timestamp.Equal(eb.Timestamp) || ea.SenderDisplayName != eb.SenderDisplayName || string(ea.Raw) != string(eb.Raw) {
		t.Fatalf("envelope shapes normalized differently:\n%+v\n%+v", ea, eb)
	}
	if ea.MessageID != "wamid.ABC" || ea.TextBody != "hi" || ea.Direction != DirectionInbound {
		t.Fatalf("unexpected event: %+v", ea)
	}
	if ea.BusinessDisplayPhoneNumber != "15550001111" || ea.SenderDisplayName != "Alice" {
		t.Fatalf("metadata/contacts not applied: %+v", ea)
	}
	if !ea.Timestamp.Equal(time.Unix(1700000000, 0)) || ea.TimestampDefaulted {
		t.Fatalf("timestamp unexpected: %v defaulted=%v", ea.Timestamp, ea.TimestampDefaulted)
	}
}

func TestNormalize_ConversationIDDerivation(t *testing.T) {
	evs := mustNormalize(t, []byte(valueJSON))
	if got := evs[0].ConversationID; got != "875171289009578:15555555555" {
		t.Fatalf("individual conversation id = %q", got)
	}
	if evs[0].ConversationType != ConversationIndividual {
		t.Fatalf("expected individual, got %q", evs[0].ConversationType)
	}

	group := `{"metadata":{"phone_number_id":"875171289009578"},"messages":[{"from":"15555555555","id":"wamid.G","timestamp":"1700000000","type":"text","text":{"body":"yo"},"group_id":"120363023456789@g.us"}]}`
	evs = mustNormalize(t, []byte(group))
	if evs[0].ConversationID != "120363023456789@g.us" || !evs[0].IsGroup() || evs[0].GroupID != "120363023456789@g.us" {
		t.Fatalf("group event unexpected: %+v", evs[0])
	}
}

func TestConversationID_Pure(t *testing.T) {
	id1, _ := ConversationID("b", "s", "")
	id2, _ := ConversationID("b", "s", "")
	if id1 != id2 || id1 != "b:s" {
		t.Fatalf("ConversationID not deterministic: %q %q", id1, id2)
	}
	if id, typ := ConversationID("b", "s", "g@g.us"); id != "g@g.us" || typ != ConversationGroup {
		t.Fatalf("group derivation = %q/%q", id, typ)
	}
}

func TestNormalize_Statuses(t *testing.T) {
	payload := `{"metadata":{"phone_number_id":"123"},"statuses":[
		{"id":"wamid.S1","status":"delivered","timestamp":1700000100,"recipient_id":"456"},
		{"id":"wamid.S2","status":"failed","timestamp":"1700000200","recipient_id":"120363@g.us","recipient_type":"group","errors":[{"code":131026,"title":"Message undeliverable"}]}
	]}`
	evs := mustNormalize(t, []byte(payload))
	if len(evs) != 2 {
		t.Fatalf("expected 2 status events, got %d", len(evs))
	}
	s1, s2 := evs[0], evs[1]
	if !s1.IsStatus() || s1.Status != "delivered" || s1.Direction != DirectionOutbound || s1.ConversationID != "123:456" {
		t.Fatalf("status 1 unexpected: %+v", s1)
	}
	if !s1.Timestamp.Equal(time.Unix(1700000100, 0)) {
		t.Fatalf("numeric timestamp not accepted: %v", s1.Timestamp)
	}
	if s2.ConversationID != "120363@g.us" || s2.ConversationType != ConversationGroup || len(s2.Errors) != 1 {
		t.Fatalf("status 2 unexpected: %+v", s2)
	}
	if s1.SenderID != "" {
		t.Fatalf("status events have no sender, got %q", s1.SenderID)
	}
}

func TestNormalize_TextBodyOnlyForText(t *testing.T) {
	payload := `{"metadata":{"phone_number_id":"123"},"messages":[{"from":"456","id":"wamid.I","timestamp":"1700000000","type":"image","text":{"body":"ignored"},"image":{"id":"MEDIA1","mime_type":"image/jpeg"}}]}`
	ev := mustNormalize(t, []byte(payload))[0]
	if ev.TextBody != "" {
		t.Fatalf("text body must be empty for image, got %q", ev.TextBody)
	}
	if ev.Media == nil || ev.Media.ID != "MEDIA1" || ev.Media.MimeType != "image/jpeg" {
		t.Fatalf("media not carried: %+v", ev.Media)
	}
}

func TestNormalize_ReplyAndUnsupportedErrors(t *testing.T) {
	payload := `{"metadata":{"phone_number_id":"123"},"messages":[
		{"from":"456","id":"wamid.R","timestamp":"1700000000","type":"text","text":{"body":"re"},"context":{"from":"123","id":"wamid.ORIG"}},
		{"from":"456","id":"wamid.U","timestamp":"1700000000","type":"unsupported","errors":[{"code":131051,"title":"Message type unknown"}]},
		{"from":"456","id":"wamid.T","timestamp":"1700000000","type":"text","text":{"body":"x"},"errors":[{"code":1}]}
	]}`
	evs := mustNormalize(t, []byte(payload))
	if evs[0].ReplyToMessageID != "wamid.ORIG" {
		t.Fatalf("reply id not carried: %+v", evs[0])
	}
	if len(evs[1].Errors) != 1 {
		t.Fatalf("unsupported errors not carried: %+v", evs[1])
	}
	var e map[string]any
	if err := json.Unmarshal(evs[1].Errors[0], &e); err != nil || e["title"] != "Message type unknown" {
		t.Fatalf("errors not carried verbatim: %s", evs[1].Errors[0])
	}
	if len(evs[2].Errors) != 0 {
		t.Fatalf("errors should only be carried for unsupported, got %d", len(evs[2].Errors))
	}
}

func TestNormalize_MissingTimestampDefaultsToNow(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	freezeNow(t, at)
	payload := `{"metadata":{"phone_number_id":"123"},"messages":[{"from":"456","id":"wamid.N","type":"text","text":{"body":"x"}}]}`
	ev := mustNormalize(t, []byte(payload))[0]
	if !ev.Timestamp.Equal(at) || !ev.TimestampDefaulted {
		t.Fatalf("expected defaulted timestamp %v, got %v (defaulted=%v)", at, ev.Timestamp, ev.TimestampDefaulted)
	}
}

func TestNormalize_MissingTypeIsUnknown(t *testing.T) {
	payload := `{"metadata":{"phone_number_id":"123"},"messages":[{"from":"456","id":"wamid.X","timestamp":"1"}]}`
	if ev := mustNormalize(t, []byte(payload))[0]; ev.MessageType != "unknown" {
		t.Fatalf("expected unknown type, got %q", ev.MessageType)
	}
}

func TestNormalize_DisplayNameNFC(t *testing.T) {
	// "e" + combining acute accent must equal the precomposed form.
	payload := `{"metadata":{"phone_number_id":"123"},"contacts":[{"profile":{"name":"  Jose\u0301 "},"wa_id":"456"}],"messages":[{"from":"456","id":"wamid.D","timestamp":"1","type":"text","text":{"body":"x"}}]}`
	ev := mustNormalize(t, []byte(payload))[0]
	if ev.SenderDisplayName != "Jos\u00e9" {
		t.Fatalf("display name not normalized: %q", ev.SenderDisplayName)
	}
}

func TestNormalize_MultipleEntriesAndNullValue(t *testing.T) {
	payload := `{"object":"whatsapp_business_account","entry":[
		{"id":"A","changes":[{"field":"messages","value":null},{"field":"messages","value":{"metadata":{"phone_number_id":"1"},"messages":[{"from":"9","id":"m1","timestamp":"1","type":"text","text":{"body":"a"}}]}}]},
		{"id":"B","changes":[{"field":"messages","value":{"metadata":{"phone_number_id":"2"},"messages":[{"from":"8","id":"m2","timestamp":"2","type":"text","text":{"body":"b"}}]}}]}
	]}`
	evs := mustNormalize(t, []byte(payload))
	if len(evs) != 2 || evs[0].ConversationID != "1:9" || evs[1].ConversationID != "2:8" {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestNormalize_UnknownShapeYieldsNothing(t *testing.T) {
	for _, p := range []string{`{}`, `{"object":"page","entry":[]}`, `{"hello":"world"}`} {
		evs, err := Normalize([]byte(p))
		if err != nil || len(evs) != 0 {
			t.Fatalf("Normalize(%s) = %d events, err=%v; want none", p, len(evs), err)
		}
	}
}

func TestNormalize_Errors(t *testing.T) {
	if _, err := Normalize([]byte(`{"object":`)); !errors.Is(err, ErrMalformedJSON) {
		t.Fatalf("expected ErrMalformedJSON, got %v", err)
	}

	cases := []string{
		`[1,2,3]`,
		`{"messages":"not-an-array"}`,
		`{"metadata":{"phone_number_id":"1"},"messages":[{"from":"9","id":"m","timestamp":"abc","type":"text"}]}`,
		`{"object":"whatsapp_business_account","entry":{"oops":true}}`,
	}
	for _, p := range cases {
		_, err := Normalize([]byte(p))
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("Normalize(%s) error = %v; want *ParseError", p, err)
		}
		if pe.Error() == "" {
			t.Fatalf("empty parse error message")
		}
	}
}

func TestInspect(t *testing.T) {
	sum := Inspect(enveloped(valueJSON))
	if sum.Shape != ShapeEnveloped || sum.Messages != 1 || sum.Statuses != 0 || sum.PhoneNumberID != "875171289009578" {
		t.Fatalf("enveloped summary unexpected: %+v", sum)
	}
	sum = Inspect([]byte(`{"metadata":{"phone_number_id":"7"},"statuses":[{},{}]}`))
	if sum.Shape != ShapeUnwrapped || sum.Statuses != 2 || sum.PhoneNumberID != "7" {
		t.Fatalf("unwrapped summary unexpected: %+v", sum)
	}
	if sum := Inspect([]byte("not json")); sum.Shape != ShapeUnknown {
		t.Fatalf("garbage should be unknown, got %+v", sum)
	}
}

func TestTimestamp_JSON(t *testing.T) {
	var ts Timestamp
	for _, in := range []string{`null`, `""`, `"  "`} {
		if err := json.Unmarshal([]byte(in), &ts); err != nil || ts.Set {
			t.Fatalf("Unmarshal(%s) = %+v, %v; want unset", in, ts, err)
		}
	}
	if err := json.Unmarshal([]byte(`"42"`), &ts); err != nil || !ts.Set || ts.Unix != 42 {
		t.Fatalf("string form: %+v, %v", ts, err)
	}
	if err := json.Unmarshal([]byte(`43`), &ts); err != nil || ts.Unix != 43 {
		t.Fatalf("number form: %+v, %v", ts, err)
	}
	if err := json.Unmarshal([]byte(`1.5`), &ts); err == nil {
		t.Fatalf("fractional seconds should be rejected")
	}
	b, _ := json.Marshal(Timestamp{Unix: 7, Set: true})
	if string(b) != `"7"` {
		t.Fatalf("MarshalJSON = %s", b)
	}
}
