package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/ruralpay/offline-wallet/internal/config"
	"github.com/ruralpay/offline-wallet/internal/ledger"
	"github.com/ruralpay/offline-wallet/internal/metrics"
	"github.com/ruralpay/offline-wallet/internal/models"
	"github.com/ruralpay/offline-wallet/internal/network"
	"github.com/ruralpay/offline-wallet/internal/notification"
	"github.com/ruralpay/offline-wallet/internal/store"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound         = store.ErrNotFound
	ErrAlreadyCompleted = errors.New("transaction already completed")
	ErrInFlight         = errors.New("transaction is already being processed")
	ErrOffline          = errors.New("network is offline")
	ErrMemoTooLong      = errors.New("memo must be at most 28 bytes")
)

const (
	maxMemoBytes    = 28
	detailNoSource  = "No source account found"
	detailExhausted = "Failed after %d attempts: %s"
)

// Trigger says why the queue is being processed
type Trigger string

const (
	TriggerUser      Trigger = "user"
	TriggerReconnect Trigger = "reconnect"
	TriggerPeriodic  Trigger = "periodic"
	TriggerRetry     Trigger = "retry"
	TriggerEnqueue   Trigger = "enqueue"
)

func (t Trigger) automatic() bool {
	return t == TriggerReconnect || t == TriggerPeriodic
}

const (
	SkipInProgress = "a sweep is already in progress"
	SkipOffline    = "network is offline"
	SkipTooSoon    = "previous sweep finished too recently"
)

// Report summarizes one run. Counts are advisory.
type Report struct {
	Trigger    Trigger   `json:"trigger"`
	Processed  int       `json:"processed"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Deferred   int       `json:"deferred"`
	Skipped    bool      `json:"skipped"`
	SkipReason string    `json:"skipReason,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// TransactionStore is the persistence the queue needs
type TransactionStore interface {
	Append(ctx context.Context, tx *models.PendingTransaction) error
	ListAll(ctx context.Context) []models.PendingTransaction
	Get(ctx context.Context, id string) (*models.PendingTransaction, error)
	Transition(ctx context.Context, id string, upd models.StatusUpdate) (models.TransactionStatus, bool, error)
	RecordSubmission(ctx context.Context, id string, sub models.Submission) error
	DropSubmissions(ctx context.Context, id string, hashes ...string) error
}

// ActiveAccountSource yields the account used when a record has no source
type ActiveAccountSource interface {
	Active(ctx context.Context) (*models.Account, error)
}

// PaymentSubmitter talks to the ledger
type PaymentSubmitter interface {
	Submit(ctx context.Context, p ledger.Payment) ledger.Result
	Lookup(ctx context.Context, hash string) (found, successful bool, err error)
	NativeBalance(ctx context.Context, publicKey string) (string, error)
}

// NetworkStatus reports connectivity and its changes
type NetworkStatus interface {
	IsOnline() bool
	Subscribe() (<-chan network.Event, func())
}

type Notifier interface {
	Notify(ctx context.Context, n notification.Notification)
	CheckBalance(ctx context.Context, publicKey, balance string)
}

// TransitionRecorder keeps a durable log of status changes
type TransitionRecorder interface {
	Record(ctx context.Context, t models.StateTransition) error
}

type QueueDeps struct {
	Store     TransactionStore
	Accounts  ActiveAccountSource
	Submitter PaymentSubmitter
	Network   NetworkStatus
	Notifier  Notifier
	History   TransitionRecorder // optional
	Metrics   *metrics.Metrics   // optional
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeFailed
	outcomeDeferred
	outcomeSkipped
)

var queueLog = logrus.WithField("component", "queue")

// QueueService owns the lifecycle of queued payments: it accepts intents,
// decides when to submit them and moves each record through its states.
type QueueService struct {
	store     TransactionStore
	accounts  ActiveAccountSource
	submitter PaymentSubmitter
	network   NetworkStatus
	notifier  Notifier
	history   TransitionRecorder
	metrics   *metrics.Metrics
	validator *ValidationHelper
	cfg       config.QueueConfig

	now      func() time.Time
	newTimer func() backoff.Timer
	newID    func() string

	mu         sync.Mutex
	running    bool
	lastRunEnd time.Time

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	// taken at construction so events published before Run are kept
	events      <-chan network.Event
	unsubscribe func()

	bg   context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

func NewQueueService(deps QueueDeps, cfg config.QueueConfig) *QueueService {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	bg, stop := context.WithCancel(context.Background())
	events, unsubscribe := deps.Network.Subscribe()
	return &QueueService{
		store:     deps.Store,
		accounts:  deps.Accounts,
		submitter: deps.Submitter,
		network:   deps.Network,
		notifier:  deps.Notifier,
		history:   deps.History,
		metrics:   deps.Metrics,
		validator: NewValidationHelper(),
		cfg:       cfg,
		now:       time.Now,
		newTimer:  func() backoff.Timer { return nil },
		newID:     func() string { return "tx_" + uuid.NewString() },
		inflight:  make(map[string]struct{}),
		bg:        bg,
		stop:      stop,

		events:      events,
		unsubscribe: unsubscribe,
	}
}

// Enqueue validates an intent and stores it as a pending record
func (s *QueueService) Enqueue(ctx context.Context, intent models.PaymentIntent) (*models.PendingTransaction, error) {
	if err := s.validator.ValidateStruct(&intent); err != nil {
		return nil, err
	}
	if len(intent.Memo) > maxMemoBytes {
		return nil, ErrMemoTooLong
	}
	if intent.SourceFormat == "" {
		intent.SourceFormat = "manual"
	}

	tx := &models.PendingTransaction{
		ID:           s.newID(),
		Source:       intent.Source,
		Destination:  intent.Destination,
		Amount:       intent.Amount,
		Memo:         intent.Memo,
		Timestamp:    s.now().UnixMilli(),
		Status:       models.StatusPending,
		SourceFormat: intent.SourceFormat,
		RawPayload:   intent.RawPayload,
	}

	if err := s.store.Append(ctx, tx); err != nil {
		queueLog.WithError(err).Error("failed to store transaction")
		s.notify(ctx, notification.StorageError(err))
		return nil, err
	}

	s.record(ctx, tx.ID, "", models.StatusPending, "", "", TriggerEnqueue)
	queueLog.WithFields(logrus.Fields{"tx_id": tx.ID, "format": tx.SourceFormat}).Info("transaction queued")

	if s.cfg.SubmitOnEnqueue && s.network.IsOnline() {
		s.spawn(func(ctx context.Context) {
			if _, err := s.Retry(ctx, tx.ID); err != nil && !errors.Is(err, ErrInFlight) {
				queueLog.WithError(err).WithField("tx_id", tx.ID).Warn("immediate submission skipped")
			}
		})
	}
	return tx, nil
}

// List returns every record in store order
func (s *QueueService) List(ctx context.Context) []models.PendingTransaction {
	return s.store.ListAll(ctx)
}

func (s *QueueService) Get(ctx context.Context, id string) (*models.PendingTransaction, error) {
	return s.store.Get(ctx, id)
}

// ProcessPending runs one sweep over every pending or failed record.
// Automatic triggers are skipped when offline, while another sweep runs, or
// when the previous sweep ended less than MinSweepGap ago.
func (s *QueueService) ProcessPending(ctx context.Context, trigger Trigger) (Report, error) {
	report := Report{Trigger: trigger, StartedAt: s.now()}

	if reason := s.begin(trigger); reason != "" {
		report.Skipped = true
		report.SkipReason = reason
		report.FinishedAt = report.StartedAt
		s.metrics.Sweep(string(trigger), "skipped", 0)
		queueLog.WithFields(logrus.Fields{"trigger": trigger, "reason": reason}).Debug("sweep skipped")
		return report, nil
	}
	defer s.end()

	log := queueLog.WithField("trigger", trigger)
	log.Info("processing pending transactions")

	for _, tx := range s.store.ListAll(ctx) {
		if !tx.Status.Retryable() {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		if !s.claim(tx.ID) {
			continue
		}
		result := s.process(ctx, tx.ID, trigger, false)
		s.release(tx.ID)
		report.add(result)
	}

	report.FinishedAt = s.now()
	s.metrics.Sweep(string(trigger), "ok", report.FinishedAt.Sub(report.StartedAt))

	if report.Completed > 0 || report.Failed > 0 {
		s.notify(ctx, notification.SweepSummary(report.Completed, report.Failed))
	}

	log.WithFields(logrus.Fields{
		"processed": report.Processed,
		"completed": report.Completed,
		"failed":    report.Failed,
		"deferred":  report.Deferred,
	}).Info("sweep finished")

	return report, ctx.Err()
}

// Retry processes a single record now, bypassing the sweep guard
func (s *QueueService) Retry(ctx context.Context, id string) (Report, error) {
	report := Report{Trigger: TriggerRetry, StartedAt: s.now()}

	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return report, err
	}
	if tx.Status == models.StatusCompleted {
		return report, ErrAlreadyCompleted
	}
	if !s.network.IsOnline() {
		return report, ErrOffline
	}
	if !s.claim(id) {
		return report, ErrInFlight
	}
	defer s.release(id)

	report.add(s.process(ctx, id, TriggerRetry, true))
	report.FinishedAt = s.now()
	return report, ctx.Err()
}

func (r *Report) add(o outcome) {
	switch o {
	case outcomeSkipped:
		return
	case outcomeCompleted:
		r.Completed++
	case outcomeFailed:
		r.Failed++
	case outcomeDeferred:
		r.Deferred++
	}
	r.Processed++
}

// begin applies the sweep guard and marks a sweep as running
func (s *QueueService) begin(trigger Trigger) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return SkipInProgress
	}
	if trigger.automatic() {
		if !s.network.IsOnline() {
			return SkipOffline
		}
		if !s.lastRunEnd.IsZero() && s.now().Sub(s.lastRunEnd) < s.cfg.MinSweepGap {
			return SkipTooSoon
		}
	}
	s.running = true
	return ""
}

func (s *QueueService) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastRunEnd = s.now()
}

func (s *QueueService) claim(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *QueueService) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// process runs the per-record algorithm. The caller holds the claim on id.
func (s *QueueService) process(ctx context.Context, id string, trigger Trigger, notifyEach bool) outcome {
	log := queueLog.WithFields(logrus.Fields{"tx_id": id, "trigger": trigger})

	// re-read under the claim; a concurrent retry may have finished it
	tx, err := s.store.Get(ctx, id)
	if err != nil {
		log.WithError(err).Warn("could not load transaction")
		return outcomeSkipped
	}
	if !tx.Status.Retryable() {
		return outcomeSkipped
	}

	source := tx.Source
	if source == "" {
		acct, err := s.accounts.Active(ctx)
		if err != nil {
			log.WithError(err).Warn("could not read active account, leaving record")
			return outcomeDeferred
		}
		if acct != nil {
			source = acct.PublicKey
		}
	}
	if source == "" {
		log.Error(detailNoSource)
		return s.fail(ctx, tx, detailNoSource, trigger, notifyEach)
	}

	if o, done := s.reconcile(ctx, tx, source, trigger, notifyEach); done {
		return o
	}

	res, attempts, err := s.submitWithRetry(ctx, tx, source)
	switch {
	case err != nil:
		log.WithError(err).Warn("could not reconcile unanswered submission, leaving record")
		return outcomeDeferred
	case res.Success:
		return s.complete(ctx, tx, source, res.LedgerReference, trigger, notifyEach)
	case attempts > 0 && res.Class == ledger.Permanent:
		return s.fail(ctx, tx, res.Detail, trigger, notifyEach)
	case ctx.Err() != nil:
		log.Info("processing interrupted, record left for a later sweep")
		return outcomeDeferred
	default:
		return s.fail(ctx, tx, fmt.Sprintf(detailExhausted, attempts, res.Detail), trigger, notifyEach)
	}
}

// reconcile asks the ledger about envelopes recorded by earlier sweeps. It
// completes the record when one landed, forgets those that can no longer
// land, and holds the record back while one might still. done is false when
// a fresh submission is safe.
func (s *QueueService) reconcile(ctx context.Context, tx *models.PendingTransaction, source string, trigger Trigger, notifyEach bool) (outcome, bool) {
	log := queueLog.WithField("tx_id", tx.ID)

	var (
		stale       []string
		outstanding bool
	)
	for i := len(tx.SubmissionHashes) - 1; i >= 0; i-- {
		hash := tx.SubmissionHashes[i]
		found, ok, err := s.submitter.Lookup(ctx, hash)
		if err != nil {
			log.WithError(err).WithField("hash", hash).Warn("could not reconcile earlier submission, leaving record")
			return outcomeDeferred, true
		}
		switch {
		case found && ok:
			log.WithField("hash", hash).Info("earlier submission found on ledger")
			return s.complete(ctx, tx, source, hash, trigger, notifyEach), true
		case found, tx.Expired(hash, s.now()):
			stale = append(stale, hash)
		default:
			outstanding = true
		}
	}

	if err := s.store.DropSubmissions(ctx, tx.ID, stale...); err != nil {
		log.WithError(err).Warn("failed to prune settled submissions")
	}
	if outstanding {
		log.Info("earlier submission may still land, leaving record until it expires")
		return outcomeDeferred, true
	}
	return outcomeSkipped, false
}

// submitWithRetry makes up to MaxRetries attempts, waiting InitialRetryDelay
// and doubling after each transient failure. Before resending after an
// unanswered attempt it checks whether that envelope landed, and the resend
// reuses its sequence number so only one of them can apply. err is set when
// the ledger could not be asked.
func (s *QueueService) submitWithRetry(ctx context.Context, tx *models.PendingTransaction, source string) (ledger.Result, int, error) {
	log := queueLog.WithField("tx_id", tx.ID)

	var (
		last        ledger.Result
		attempts    int
		unanswered  []string
		unreachable error
	)
	payment := ledger.Payment{
		Source:      source,
		Destination: tx.Destination,
		Amount:      tx.Amount,
		Memo:        tx.Memo,
		OnSigned: func(sub models.Submission) error {
			return s.store.RecordSubmission(ctx, tx.ID, sub)
		},
	}

	operation := func() error {
		if len(unanswered) > 0 {
			hash, err := s.landed(ctx, unanswered)
			if err != nil {
				unreachable = err
				return backoff.Permanent(err)
			}
			if hash != "" {
				log.WithField("hash", hash).Info("unanswered submission found on ledger")
				last = ledger.Result{Success: true, LedgerReference: hash}
				return nil
			}
		}

		attempts++
		last = s.submitter.Submit(ctx, payment)
		if last.Success {
			s.metrics.SubmissionAttempt("success")
			return nil
		}
		s.metrics.SubmissionAttempt(string(last.Class))
		log.WithFields(logrus.Fields{"attempt": attempts, "class": last.Class}).Warn(last.Detail)

		switch {
		case last.Ambiguous():
			unanswered = append(unanswered, last.Envelope.Hash)
			payment.Sequence = last.Envelope.Sequence
		case last.Rejected:
			payment.Sequence = 0
			if err := s.store.DropSubmissions(context.WithoutCancel(ctx), tx.ID, last.Envelope.Hash); err != nil {
				log.WithError(err).Warn("failed to forget rejected submission")
			}
		}

		err := errors.New(last.Detail)
		if last.Class == ledger.Permanent {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(_ error, delay time.Duration) {
		log.WithFields(logrus.Fields{"attempt": attempts + 1, "delay": delay}).Info("retrying submission")
	}

	_ = backoff.RetryNotifyWithTimer(operation, s.retryPolicy(ctx), notify, s.newTimer())
	return last, attempts, unreachable
}

// landed returns the first of hashes found successful on the ledger
func (s *QueueService) landed(ctx context.Context, hashes []string) (string, error) {
	for i := len(hashes) - 1; i >= 0; i-- {
		found, ok, err := s.submitter.Lookup(ctx, hashes[i])
		if err != nil {
			return "", err
		}
		if found && ok {
			return hashes[i], nil
		}
	}
	return "", nil
}

func (s *QueueService) retryPolicy(ctx context.Context) backoff.BackOff {
	if s.cfg.MaxRetries <= 1 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}

	maxInterval := s.cfg.MaxRetryDelay
	if maxInterval <= 0 {
		maxInterval = backoff.DefaultMaxInterval
	}
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     s.cfg.InitialRetryDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.cfg.MaxRetries-1)), ctx)
}

func (s *QueueService) complete(ctx context.Context, tx *models.PendingTransaction, source, hash string, trigger Trigger, notifyEach bool) outcome {
	log := queueLog.WithFields(logrus.Fields{"tx_id": tx.ID, "hash": hash})

	from, applied, err := s.store.Transition(ctx, tx.ID, models.StatusUpdate{
		Status:          models.StatusCompleted,
		LedgerReference: hash,
	})
	if err != nil {
		// the hash is already recorded, the next sweep reconciles it
		log.WithError(err).Error("payment landed but status could not be saved")
		s.notify(ctx, notification.StorageError(err))
		return outcomeDeferred
	}
	if !applied {
		return outcomeSkipped
	}

	log.Info("transaction completed")
	s.metrics.Transition(string(models.StatusCompleted))
	s.record(ctx, tx.ID, from, models.StatusCompleted, hash, "", trigger)

	tx.Status = models.StatusCompleted
	tx.LedgerReference = hash
	if notifyEach {
		s.notify(ctx, notification.TransactionCompleted(tx))
	}
	s.checkBalance(ctx, source)
	return outcomeCompleted
}

func (s *QueueService) fail(ctx context.Context, tx *models.PendingTransaction, detail string, trigger Trigger, notifyEach bool) outcome {
	// a cancelled sweep must still be able to record the failure
	writeCtx := context.WithoutCancel(ctx)

	from, applied, err := s.store.Transition(writeCtx, tx.ID, models.StatusUpdate{
		Status:      models.StatusFailed,
		ErrorDetail: detail,
	})
	if err != nil {
		queueLog.WithError(err).WithField("tx_id", tx.ID).Error("failed to save transaction failure")
		s.notify(writeCtx, notification.StorageError(err))
		return outcomeDeferred
	}
	if !applied {
		return outcomeSkipped
	}

	s.metrics.Transition(string(models.StatusFailed))
	s.record(writeCtx, tx.ID, from, models.StatusFailed, "", detail, trigger)
	if notifyEach {
		s.notify(writeCtx, notification.TransactionFailed(tx, detail))
	}
	return outcomeFailed
}

func (s *QueueService) checkBalance(ctx context.Context, source string) {
	if s.notifier == nil || source == "" {
		return
	}
	balance, err := s.submitter.NativeBalance(ctx, source)
	if err != nil {
		queueLog.WithError(err).Debug("balance check skipped")
		return
	}
	s.notifier.CheckBalance(ctx, source, balance)
}

func (s *QueueService) record(ctx context.Context, id string, from, to models.TransactionStatus, ref, detail string, trigger Trigger) {
	if s.history == nil {
		return
	}
	err := s.history.Record(ctx, models.StateTransition{
		TransactionID:   id,
		FromStatus:      from,
		ToStatus:        to,
		LedgerReference: ref,
		Detail:          detail,
		Trigger:         string(trigger),
		CreatedAt:       s.now(),
	})
	if err != nil {
		queueLog.WithError(err).WithField("tx_id", id).Warn("failed to record transition history")
	}
}

func (s *QueueService) notify(ctx context.Context, n notification.Notification) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, n)
	}
}

// Run reacts to reconnects and sweeps on a fixed interval until ctx ends.
// Events published between NewQueueService and Run are delivered.
func (s *QueueService) Run(ctx context.Context) {
	events := s.events
	defer s.unsubscribe()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	queueLog.WithField("interval", s.cfg.SweepInterval).Info("queue scheduler started")
	for {
		select {
		case <-ctx.Done():
			queueLog.Info("queue scheduler stopped")
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.metrics.NetworkOnline(ev.Online)
			if !ev.Initial {
				s.notify(ctx, notification.NetworkStatus(ev.Online))
			}
			if ev.Online && !ev.WasOnline {
				s.sweepAsync(ctx, TriggerReconnect)
			}
		case <-ticker.C:
			s.sweepAsync(ctx, TriggerPeriodic)
		}
	}
}

func (s *QueueService) sweepAsync(ctx context.Context, trigger Trigger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.ProcessPending(ctx, trigger); err != nil && !errors.Is(err, context.Canceled) {
			queueLog.WithError(err).WithField("trigger", trigger).Warn("sweep ended early")
		}
	}()
}

// spawn runs fn on the service's background context
func (s *QueueService) spawn(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.bg)
	}()
}

// Wait blocks until every background sweep and submission has returned
func (s *QueueService) Wait() {
	s.wg.Wait()
}

// Close cancels background submissions and waits for them. Interrupted
// records stay pending.
func (s *QueueService) Close() {
	s.stop()
	s.unsubscribe()
	s.wg.Wait()
}
