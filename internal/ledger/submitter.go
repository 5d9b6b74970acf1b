package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ruralpay/offline-wallet/internal/config"
	"github.com/ruralpay/offline-wallet/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/txnbuild"
)

var ErrTransactionNotFound = errors.New("transaction not found on ledger")

var log = logrus.WithField("component", "ledger")

// HorizonClient is the subset of *horizonclient.Client the submitter uses
type HorizonClient interface {
	AccountDetail(request horizonclient.AccountRequest) (hProtocol.Account, error)
	SubmitTransaction(transaction *txnbuild.Transaction) (hProtocol.Transaction, error)
	TransactionDetail(txHash string) (hProtocol.Transaction, error)
	Root() (hProtocol.Root, error)
}

// CredentialResolver yields the signing key for a source account
type CredentialResolver interface {
	ResolveCredential(publicKey string) (*keypair.Full, bool)
}

// Payment is a single native-asset transfer
type Payment struct {
	Source      string
	Destination string
	Amount      string
	Memo        string
	// Sequence, when set, is used for the envelope instead of the account's
	// next sequence number.
	Sequence int64
	// OnSigned receives the signed envelope before it is sent. An error
	// aborts the attempt.
	OnSigned func(sub models.Submission) error
}

// Result of one submission attempt
type Result struct {
	Success         bool
	LedgerReference string
	Class           ErrorClass
	Detail          string
	// Envelope is set once an envelope was signed
	Envelope models.Submission
	// Rejected means the ledger answered with a verdict, so the envelope
	// can never be applied.
	Rejected bool
}

func success(hash string) Result {
	return Result{Success: true, LedgerReference: hash}
}

func failure(detail string) Result {
	return Result{Class: Classify(detail), Detail: detail}
}

// Ambiguous reports whether the attempt failed after sending an envelope
// without learning its fate
func (r Result) Ambiguous() bool {
	return !r.Success && !r.Rejected && r.Envelope.Hash != ""
}

type Submitter struct {
	client      HorizonClient
	credentials CredentialResolver
	passphrase  string
	txTimeout   int64
}

func NewSubmitter(client HorizonClient, credentials CredentialResolver, cfg config.HorizonConfig) *Submitter {
	timeout := cfg.TxTimeoutSeconds
	if timeout <= 0 {
		timeout = 180
	}
	return &Submitter{
		client:      client,
		credentials: credentials,
		passphrase:  cfg.NetworkPassphrase,
		txTimeout:   timeout,
	}
}

// Submit builds, signs and sends one payment. It never returns an error;
// failures are described by the Result.
func (s *Submitter) Submit(ctx context.Context, p Payment) Result {
	if err := ctx.Err(); err != nil {
		return failure(err.Error())
	}

	if p.Source == p.Destination {
		return failure(DetailSelfPayment)
	}

	kp, ok := s.credentials.ResolveCredential(p.Source)
	if !ok || kp == nil {
		return failure(DetailNoCredential)
	}

	var source txnbuild.Account
	if p.Sequence > 0 {
		// pinned so a resend competes with an earlier envelope instead of following it
		source = &txnbuild.SimpleAccount{AccountID: p.Source, Sequence: p.Sequence - 1}
	} else {
		// sequence numbers go stale between attempts, always reload
		account, err := s.client.AccountDetail(horizonclient.AccountRequest{AccountID: p.Source})
		if err != nil {
			detail, _ := describe(err)
			return failure(detail)
		}
		source = &account
	}

	validUntil := time.Unix(time.Now().Unix()+s.txTimeout, 0)
	params := txnbuild.TransactionParams{
		SourceAccount:        source,
		IncrementSequenceNum: true,
		Operations: []txnbuild.Operation{
			&txnbuild.Payment{
				Destination: p.Destination,
				Amount:      p.Amount,
				Asset:       txnbuild.NativeAsset{},
			},
		},
		BaseFee:       txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{TimeBounds: txnbuild.NewTimebounds(0, validUntil.Unix())},
	}
	if p.Memo != "" {
		params.Memo = txnbuild.MemoText(p.Memo)
	}

	tx, err := txnbuild.NewTransaction(params)
	if err != nil {
		return failure(detailBuildFailed + err.Error())
	}
	tx, err = tx.Sign(s.passphrase, kp)
	if err != nil {
		return failure(fmt.Sprintf("failed to sign transaction: %v", err))
	}
	hash, err := tx.HashHex(s.passphrase)
	if err != nil {
		return failure(fmt.Sprintf("failed to hash transaction: %v", err))
	}

	envelope := models.Submission{Hash: hash, Sequence: tx.SequenceNumber(), ValidUntil: validUntil}
	if p.OnSigned != nil {
		if err := p.OnSigned(envelope); err != nil {
			return failure(fmt.Sprintf("failed to record submission: %v", err))
		}
	}

	if err := ctx.Err(); err != nil {
		res := failure(err.Error())
		res.Envelope = envelope
		res.Rejected = true // never sent
		return res
	}

	resp, err := s.client.SubmitTransaction(tx)
	if err != nil {
		detail, rejected := describe(err)
		log.WithFields(logrus.Fields{"hash": hash, "detail": detail, "rejected": rejected}).Warn("submission failed")
		res := failure(detail)
		res.Envelope = envelope
		res.Rejected = rejected
		return res
	}

	if resp.Hash != "" {
		hash = resp.Hash
	}
	log.WithField("hash", hash).Info("payment submitted")
	res := success(hash)
	res.Envelope = envelope
	return res
}

// describe turns a horizon error into the detail recorded on the queue entry.
// rejected is true when horizon returned a verdict on the envelope rather than
// a timeout or a transport failure.
func describe(err error) (detail string, rejected bool) {
	herr := horizonclient.GetError(err)
	if herr == nil {
		return err.Error(), false
	}
	rejected = herr.Problem.Status == http.StatusBadRequest

	codes, cerr := herr.ResultCodes()
	if cerr != nil || codes == nil {
		if herr.Problem.Detail != "" {
			return herr.Problem.Detail, rejected
		}
		return err.Error(), rejected
	}

	switch codes.TransactionCode {
	case "tx_bad_seq":
		return DetailBadSequence, true
	case "tx_bad_auth":
		return DetailBadAuth, true
	case "tx_failed":
		if len(codes.OperationCodes) == 0 {
			return detailFailedPrefix + detailUnknownReason, true
		}
		return detailFailedPrefix + strings.Join(codes.OperationCodes, ", "), true
	default:
		raw, _ := json.Marshal(codes)
		return detailFailedPrefix + string(raw), true
	}
}

// Transaction fetches a transaction by hash
func (s *Submitter) Transaction(ctx context.Context, hash string) (*hProtocol.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := s.client.TransactionDetail(hash)
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to look up transaction %s: %w", hash, err)
	}
	return &tx, nil
}

// Lookup reports whether a previously signed envelope reached the ledger
func (s *Submitter) Lookup(ctx context.Context, hash string) (found, successful bool, err error) {
	tx, err := s.Transaction(ctx, hash)
	if errors.Is(err, ErrTransactionNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, tx.Successful, nil
}

// NativeBalance returns the XLM balance of an account as a decimal string
func (s *Submitter) NativeBalance(ctx context.Context, publicKey string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	account, err := s.client.AccountDetail(horizonclient.AccountRequest{AccountID: publicKey})
	if err != nil {
		return "", fmt.Errorf("failed to load account %s: %w", publicKey, err)
	}
	balance, err := account.GetNativeBalance()
	if err != nil {
		return "", err
	}
	return balance, nil
}

// Ping checks that Horizon answers its root endpoint
func (s *Submitter) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.client.Root(); err != nil {
		return fmt.Errorf("horizon unreachable: %w", err)
	}
	return nil
}
