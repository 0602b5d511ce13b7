package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	casesBucket        = "cases"
	paymentsBucket     = "payments"
	keysBucket         = "keys"
	casePaymentsBucket = "case_payments"
	headsBucket        = "heads"
)

// Store defines the persistence operations for cases and their payment chains
type Store interface {
	// SaveCase creates or updates a case
	SaveCase(c *Case) error

	// GetCase retrieves a case by ID
	GetCase(id string) (*Case, error)

	// ListCases returns all cases
	ListCases() ([]*Case, error)

	// AppendPayment stores a payment if the case's last line is still expectedLast ("" for none)
	AppendPayment(p *Payment, expectedLast string) error

	// GetPayment retrieves a payment by ID
	GetPayment(id string) (*Payment, error)

	// FindPaymentByKey retrieves the payment dispatched with the given key
	FindPaymentByKey(key Key) (*Payment, error)

	// ListPaymentsForCase returns the payments of a case in append order
	ListPaymentsForCase(caseID string) ([]*Payment, error)

	// ListPaymentsByKey returns the payments whose key is within [from, to], in key order
	ListPaymentsByKey(from, to Key) ([]*Payment, error)

	// AttachReceipt records the mainframe's receipt on a payment
	AttachReceipt(paymentID string, receipt *Receipt) error

	// MarkReconciled records the reconciliation run that covered the payments
	MarkReconciled(paymentIDs []string, runID string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements Store using BoltDB. Payments are indexed by key globally and per case;
// the per-case head is compared and moved in the same write transaction as the payment.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{casesBucket, paymentsBucket, keysBucket, casePaymentsBucket, headsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveCase saves a case to the database
func (b *BoltDB) SaveCase(c *Case) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshaling case: %w", err)
		}
		return tx.Bucket([]byte(casesBucket)).Put([]byte(c.ID), data)
	})
}

// GetCase retrieves a case by ID
func (b *BoltDB) GetCase(id string) (*Case, error) {
	var c *Case
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(casesBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("case %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCases returns all cases
func (b *BoltDB) ListCases() ([]*Case, error) {
	cases := make([]*Case, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(casesBucket)).ForEach(func(k, v []byte) error {
			var c Case
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("unmarshaling case: %w", err)
			}
			cases = append(cases, &c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return cases, nil
}

// AppendPayment stores a payment and moves the case head to its last line
func (b *BoltDB) AppendPayment(p *Payment, expectedLast string) error {
	if len(p.Lines) == 0 {
		return ErrNoLines
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(casesBucket)).Get([]byte(p.CaseID)) == nil {
			return fmt.Errorf("case %s: %w", p.CaseID, ErrNotFound)
		}

		heads := tx.Bucket([]byte(headsBucket))
		if head := string(heads.Get([]byte(p.CaseID))); head != expectedLast {
			return fmt.Errorf("%w %s: head is %q, expected %q", ErrConcurrentAppend, p.CaseID, head, expectedLast)
		}

		keys := tx.Bucket([]byte(keysBucket))
		if keys.Get(p.Key.Bytes()) != nil {
			return fmt.Errorf("%w %s: key %s already used", ErrConcurrentAppend, p.CaseID, p.Key)
		}

		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshaling payment: %w", err)
		}
		if err := tx.Bucket([]byte(paymentsBucket)).Put([]byte(p.ID), data); err != nil {
			return err
		}
		if err := keys.Put(p.Key.Bytes(), []byte(p.ID)); err != nil {
			return err
		}
		perCase, err := tx.Bucket([]byte(casePaymentsBucket)).CreateBucketIfNotExists([]byte(p.CaseID))
		if err != nil {
			return err
		}
		if err := perCase.Put(p.Key.Bytes(), []byte(p.ID)); err != nil {
			return err
		}
		return heads.Put([]byte(p.CaseID), []byte(p.Last().ID))
	})
}

// GetPayment retrieves a payment by ID
func (b *BoltDB) GetPayment(id string) (*Payment, error) {
	var p *Payment
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		p, err = getPayment(tx, []byte(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FindPaymentByKey retrieves the payment dispatched with the given key
func (b *BoltDB) FindPaymentByKey(key Key) (*Payment, error) {
	var p *Payment
	err := b.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket([]byte(keysBucket)).Get(key.Bytes())
		if id == nil {
			return fmt.Errorf("payment with key %s: %w", key, ErrNotFound)
		}
		var err error
		p, err = getPayment(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPaymentsForCase returns the payments of a case in append order
func (b *BoltDB) ListPaymentsForCase(caseID string) ([]*Payment, error) {
	payments := make([]*Payment, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		perCase := tx.Bucket([]byte(casePaymentsBucket)).Bucket([]byte(caseID))
		if perCase == nil {
			return nil
		}
		return perCase.ForEach(func(k, v []byte) error {
			p, err := getPayment(tx, v)
			if err != nil {
				return err
			}
			payments = append(payments, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// ListPaymentsByKey returns the payments whose key is within [from, to], in key order
func (b *BoltDB) ListPaymentsByKey(from, to Key) ([]*Payment, error) {
	payments := make([]*Payment, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(keysBucket)).Cursor()
		upper := to.Bytes()
		for k, v := c.Seek(from.Bytes()); k != nil && bytes.Compare(k, upper) <= 0; k, v = c.Next() {
			p, err := getPayment(tx, v)
			if err != nil {
				return err
			}
			payments = append(payments, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// AttachReceipt records the mainframe's receipt on a payment. A later receipt replaces an earlier one.
func (b *BoltDB) AttachReceipt(paymentID string, receipt *Receipt) error {
	return b.updatePayment(paymentID, func(p *Payment) {
		p.Receipt = receipt
	})
}

// MarkReconciled records the reconciliation run that covered the payments
func (b *BoltDB) MarkReconciled(paymentIDs []string, runID string) error {
	for _, id := range paymentIDs {
		if err := b.updatePayment(id, func(p *Payment) {
			p.ReconciledBy = runID
		}); err != nil {
			return err
		}
	}
	return nil
}

func (b *BoltDB) updatePayment(id string, mutate func(p *Payment)) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		p, err := getPayment(tx, []byte(id))
		if err != nil {
			return err
		}
		mutate(p)
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshaling payment: %w", err)
		}
		return tx.Bucket([]byte(paymentsBucket)).Put([]byte(id), data)
	})
}

func getPayment(tx *bbolt.Tx, id []byte) (*Payment, error) {
	data := tx.Bucket([]byte(paymentsBucket)).Get(id)
	if data == nil {
		return nil, fmt.Errorf("payment %s: %w", id, ErrNotFound)
	}
	var p Payment
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling payment: %w", err)
	}
	return &p, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
