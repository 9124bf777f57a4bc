// Package emailengine queues transactional email, delivers it through a
// pluggable provider and tracks every send through its lifecycle.
//
// A send moves through these states:
//
//	queued ──► sending ──► sent
//	   │          │ └────► failed
//	   │          ▼
//	   │   retry_scheduled ──► sending ...
//	   ▼          │
//	dropped ◄─────┘
//
// All state changes are compare-and-set operations on the store, so any
// number of workers and sweeps may run concurrently and a record is handed
// to the provider by at most one of them at a time.
//
// # Usage
//
// Stores, consent and content sources live under pkg/ and can be combined
// freely:
//
//	templates := content.NewStatic()
//	templates.Put(0, "welcome", emailengine.Content{Subject: "Welcome", Text: "Hello"})
//
//	eng := emailengine.New(memory.New(), provider,
//	    emailengine.WithConsent(consent.NewStatic()),
//	    emailengine.WithContent(templates),
//	    emailengine.WithFromAddress("no-reply@example.com"),
//	    emailengine.WithLogger(log),
//	)
//
//	id, err := eng.SubmitSend(ctx, emailengine.SendRequest{
//	    TenantID:   42,
//	    Recipient:  "alice@example.com",
//	    ContentRef: "welcome",
//	    Nonce:      "signup-9f2c",
//	})
//
//	res, err := eng.Dispatch(ctx, 42, id)
//	if res.Action == emailengine.ActionSent {
//	    // delivered
//	}
//
// The postgres store (pkg/store/postgres) and the SMTP, SES and Resend
// providers (pkg/mailer/...) replace the in-memory pieces in production.
//
// Transient failures are rescheduled with exponential backoff; call
// RunRetrySweep periodically to pick them up again. RecoverStale and
// DispatchPending repair records left behind by crashed workers or lost
// dispatch jobs.
package emailengine
