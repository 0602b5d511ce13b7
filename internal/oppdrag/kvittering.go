package oppdrag

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/zombor/utbetaling/internal/ledger"
)

// Alvorlighetsgrad codes sent in mmel
const (
	AlvorlighetsgradOK      = "00"
	AlvorlighetsgradVarsel  = "04"
	AlvorlighetsgradAvvist  = "08"
	AlvorlighetsgradSqlFeil = "12"
)

// Mmel is the mainframe's status block on a receipt
type Mmel struct {
	SystemID         string `xml:"systemId,omitempty"`
	KodeMelding      string `xml:"kodeMelding,omitempty"`
	Alvorlighetsgrad string `xml:"alvorlighetsgrad"`
	BeskrMelding     string `xml:"beskrMelding,omitempty"`
}

// Kvittering is a decoded receipt with the fields needed to route it back to its payment
type Kvittering struct {
	FagsystemID string
	Key         ledger.Key
	Receipt     ledger.Receipt
}

type kvitteringXML struct {
	XMLName    xml.Name
	Mmel       *Mmel       `xml:"mmel"`
	Oppdrag110 *Oppdrag110 `xml:"oppdrag-110"`
}

// DecodeReceipt parses a receipt. Any malformed input yields ErrUnparseableReceipt; it never panics.
func DecodeReceipt(data []byte, receivedAt time.Time) (k *Kvittering, err error) {
	defer func() {
		if r := recover(); r != nil {
			k, err = nil, fmt.Errorf("%w: %v", ErrUnparseableReceipt, r)
		}
	}()

	var doc kvitteringXML
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseableReceipt, err)
	}
	if !strings.EqualFold(doc.XMLName.Local, "oppdrag") {
		return nil, fmt.Errorf("%w: unexpected root element %q", ErrUnparseableReceipt, doc.XMLName.Local)
	}
	if doc.Mmel == nil {
		return nil, fmt.Errorf("%w: missing mmel", ErrUnparseableReceipt)
	}
	if doc.Oppdrag110 == nil || doc.Oppdrag110.FagsystemID == "" {
		return nil, fmt.Errorf("%w: missing oppdrag-110/fagsystemId", ErrUnparseableReceipt)
	}
	if doc.Oppdrag110.KodeEndring != "" && !doc.Oppdrag110.KodeEndring.Valid() {
		return nil, fmt.Errorf("%w: unknown kodeEndring %q", ErrUnparseableReceipt, doc.Oppdrag110.KodeEndring)
	}

	key, err := ledger.ParseKey(strings.TrimSpace(doc.Oppdrag110.Avstemming115.NokkelAvstemming))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseableReceipt, err)
	}

	severity := strings.TrimSpace(doc.Mmel.Alvorlighetsgrad)
	status, err := receiptStatus(severity)
	if err != nil {
		return nil, err
	}

	return &Kvittering{
		FagsystemID: doc.Oppdrag110.FagsystemID,
		Key:         key,
		Receipt: ledger.Receipt{
			Status:     status,
			Severity:   severity,
			Code:       doc.Mmel.KodeMelding,
			Message:    doc.Mmel.BeskrMelding,
			Raw:        string(data),
			ReceivedAt: receivedAt,
		},
	}, nil
}

func receiptStatus(alvorlighetsgrad string) (ledger.ReceiptStatus, error) {
	switch alvorlighetsgrad {
	case AlvorlighetsgradOK:
		return ledger.StatusConfirmed, nil
	case AlvorlighetsgradVarsel:
		return ledger.StatusConfirmedWithWarning, nil
	case AlvorlighetsgradAvvist, AlvorlighetsgradSqlFeil:
		return ledger.StatusRejected, nil
	}
	return 0, fmt.Errorf("%w: unknown alvorlighetsgrad %q", ErrUnparseableReceipt, alvorlighetsgrad)
}
