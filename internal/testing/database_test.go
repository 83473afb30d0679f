package testing

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"regbackend/internal/data"
)

func TestDatabaseOperations(t *testing.T) {
	suite := NewTestSuite(t)

	t.Run("RegistrationCRUD", func(t *testing.T) {
		testRegistrationCRUD(t, suite)
	})

	t.Run("OrderLifecycle", func(t *testing.T) {
		testOrderLifecycle(t, suite)
	})

	t.Run("AbstractCRUD", func(t *testing.T) {
		testAbstractCRUD(t, suite)
	})

	t.Run("Uploads", func(t *testing.T) {
		testUploads(t, suite)
	})

	t.Run("ConcurrentInserts", func(t *testing.T) {
		testConcurrentInsertsWithRetry(t, suite)
	})

	t.Run("AbandonedCleanup", func(t *testing.T) {
		testAbandonedCleanup(t, suite)
	})
}

func testRegistrationCRUD(t *testing.T, suite *TestSuite) {
	testData := suite.GenerateTestRegistration("speaker", "all_terms")
	reg := testData.ToRegistration()

	err := suite.ExecuteWithRetry(func() error {
		return data.InsertRegistration(reg)
	}, 5)
	suite.AssertNoError(t, err)

	retrieved, err := data.GetRegistrationByID(reg.RegistrationID)
	suite.AssertNoError(t, err)

	if retrieved.RegistrationID != reg.RegistrationID {
		t.Errorf("RegistrationID mismatch: expected %s, got %s", reg.RegistrationID, retrieved.RegistrationID)
	}
	if retrieved.Profile["email"] != reg.Profile["email"] {
		t.Errorf("Email mismatch: expected %s, got %s", reg.Profile["email"], retrieved.Profile["email"])
	}
	if retrieved.Profile["name"] != "Priya Sharma" {
		t.Errorf("Name mismatch: got %s", retrieved.Profile["name"])
	}
	if retrieved.CategoryID != "speaker" {
		t.Errorf("CategoryID mismatch: got %s", retrieved.CategoryID)
	}
	if retrieved.AmountMinor != 100000 {
		t.Errorf("Amount mismatch: expected 100000, got %d", retrieved.AmountMinor)
	}
	if len(retrieved.AdditionalAnswers) != 2 {
		t.Fatalf("Expected 2 additional answers, got %d", len(retrieved.AdditionalAnswers))
	}
	if retrieved.AdditionalAnswers[0].FieldID != "badge-name" || retrieved.AdditionalAnswers[0].Value != "Priya S." {
		t.Errorf("Badge name answer did not round-trip: %+v", retrieved.AdditionalAnswers[0])
	}
	if len(retrieved.DynamicAnswers) != 1 {
		t.Fatalf("Expected 1 dynamic answer, got %d", len(retrieved.DynamicAnswers))
	}
	if got := retrieved.DynamicAnswers[0].Values; len(got) != 1 || got[0] != "vegetarian" {
		t.Errorf("Dietary answer did not round-trip: %v", got)
	}
	if len(retrieved.AcceptedTerms) != 2 {
		t.Errorf("Expected 2 accepted terms, got %d", len(retrieved.AcceptedTerms))
	}
	if retrieved.Submitted {
		t.Error("New registration should not be marked submitted")
	}
	if retrieved.PaymentStatus != "" {
		t.Errorf("New registration should have no payment status, got %q", retrieved.PaymentStatus)
	}

	// Unknown IDs must not resolve.
	if _, err := data.GetRegistrationByID("goconf-2026-does-not-exist"); err == nil {
		t.Error("Expected error for unknown registration ID")
	}
}

func testOrderLifecycle(t *testing.T, suite *TestSuite) {
	repo := data.NewRegistrationRepository()

	testData := suite.GenerateTestRegistration()
	reg := testData.ToRegistration()
	suite.AssertNoError(t, data.InsertRegistration(reg))

	orderID := fmt.Sprintf("order_TEST%d", time.Now().UnixNano())
	suite.AssertNoError(t, repo.UpdateOrder(reg.RegistrationID, orderID, time.Now()))

	byOrder, err := data.GetRegistrationByOrderID(orderID)
	suite.AssertNoError(t, err)
	if byOrder.RegistrationID != reg.RegistrationID {
		t.Errorf("Order lookup returned wrong registration: %s", byOrder.RegistrationID)
	}
	if byOrder.PaymentStatus != "created" {
		t.Errorf("Expected payment status created, got %q", byOrder.PaymentStatus)
	}

	paymentID := fmt.Sprintf("pay_TEST%d", time.Now().UnixNano())
	suite.AssertNoError(t, repo.UpdatePaymentVerified(reg.RegistrationID, paymentID, time.Now()))

	paid, err := data.GetRegistrationByID(reg.RegistrationID)
	suite.AssertNoError(t, err)
	if paid.PaymentStatus != "paid" {
		t.Errorf("Expected payment status paid, got %q", paid.PaymentStatus)
	}
	if paid.PaymentID != paymentID {
		t.Errorf("PaymentID mismatch: got %q", paid.PaymentID)
	}
	if !paid.Submitted || paid.SubmittedAt == nil {
		t.Error("Verified payment should mark the registration submitted")
	}

	suite.AssertNoError(t, repo.UpdateBadgeCode(reg.RegistrationID, "ABCD1234-EF56"))
	suite.AssertNoError(t, repo.MarkEmailSent(reg.RegistrationID, time.Now()))

	final, err := data.GetRegistrationByID(reg.RegistrationID)
	suite.AssertNoError(t, err)
	if final.BadgeCode != "ABCD1234-EF56" {
		t.Errorf("Badge code mismatch: got %q", final.BadgeCode)
	}
	if !final.ConfirmationEmailSent {
		t.Error("Confirmation email flag should be set")
	}

	// A failed payment on a second registration keeps it unsubmitted.
	failedData := suite.GenerateTestRegistration()
	failedReg := failedData.ToRegistration()
	suite.AssertNoError(t, data.InsertRegistration(failedReg))
	suite.AssertNoError(t, repo.UpdateOrder(failedReg.RegistrationID, orderID+"-f", time.Now()))
	suite.AssertNoError(t, repo.UpdatePaymentFailed(failedReg.RegistrationID, "pay_bad", "signature mismatch"))

	failed, err := data.GetRegistrationByID(failedReg.RegistrationID)
	suite.AssertNoError(t, err)
	if failed.PaymentStatus != "failed" {
		t.Errorf("Expected payment status failed, got %q", failed.PaymentStatus)
	}
	if failed.PaymentError != "signature mismatch" {
		t.Errorf("Payment error mismatch: got %q", failed.PaymentError)
	}
	if failed.Submitted {
		t.Error("Failed payment must not mark the registration submitted")
	}

	// Updates against unknown registrations must error.
	if err := repo.UpdateOrder("no-such-reg", "order_x", time.Now()); err == nil {
		t.Error("Expected error updating order for unknown registration")
	}
}

func testAbstractCRUD(t *testing.T, suite *TestSuite) {
	repo := data.NewAbstractRepository()

	testData := suite.GenerateTestRegistration()
	reg := testData.ToRegistration()
	suite.AssertNoError(t, data.InsertRegistration(reg))

	abstract := suite.GenerateTestAbstract(reg.RegistrationID)
	suite.AssertNoError(t, repo.Insert(abstract))

	retrieved, err := repo.GetByID(abstract.AbstractID)
	suite.AssertNoError(t, err)
	if retrieved.Title != abstract.Title {
		t.Errorf("Title mismatch: got %q", retrieved.Title)
	}
	if len(retrieved.Authors) != 2 || retrieved.Authors[1] != "Arjun Mehta" {
		t.Errorf("Authors did not round-trip: %v", retrieved.Authors)
	}

	listed, err := repo.ListByEvent("goconf-2026")
	suite.AssertNoError(t, err)
	found := false
	for _, a := range listed {
		if a.AbstractID == abstract.AbstractID {
			found = true
		}
	}
	if !found {
		t.Error("Abstract missing from event listing")
	}
}

func testUploads(t *testing.T, suite *TestSuite) {
	repo := data.NewRegistrationRepository()

	testData := suite.GenerateTestRegistration("speaker")
	reg := testData.ToRegistration()
	suite.AssertNoError(t, data.InsertRegistration(reg))

	upload := data.Upload{
		UploadID:       fmt.Sprintf("up-%d", time.Now().UnixNano()),
		RegistrationID: reg.RegistrationID,
		FieldID:        "id-proof",
		PartName:       "additional_file_id-proof",
		OriginalName:   "passport.pdf",
		StoredPath:     "/tmp/does-not-matter.pdf",
		SizeBytes:      20480,
		CreatedAt:      time.Now(),
	}
	suite.AssertNoError(t, repo.InsertUpload(upload))

	uploads, err := repo.ListUploads(reg.RegistrationID)
	suite.AssertNoError(t, err)
	if len(uploads) != 1 {
		t.Fatalf("Expected 1 upload, got %d", len(uploads))
	}
	if uploads[0].FieldID != "id-proof" || uploads[0].OriginalName != "passport.pdf" {
		t.Errorf("Upload did not round-trip: %+v", uploads[0])
	}
}

func testConcurrentInsertsWithRetry(t *testing.T, suite *TestSuite) {
	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			testData := suite.GenerateTestRegistration()
			reg := testData.ToRegistration()
			errs <- suite.ExecuteWithRetry(func() error {
				return data.InsertRegistration(reg)
			}, 5)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Concurrent insert failed: %v", err)
		}
	}
}

func testAbandonedCleanup(t *testing.T, suite *TestSuite) {
	repo := data.NewRegistrationRepository()

	// Stale and unpaid: should be deleted.
	staleData := suite.GenerateTestRegistration()
	stale := staleData.ToRegistration()
	stale.SubmissionDate = time.Now().Add(-72 * time.Hour)
	suite.AssertNoError(t, data.InsertRegistration(stale))

	staleUpload := data.Upload{
		UploadID:       fmt.Sprintf("up-stale-%d", time.Now().UnixNano()),
		RegistrationID: stale.RegistrationID,
		FieldID:        "id-proof",
		PartName:       "additional_file_id-proof",
		OriginalName:   "old.pdf",
		StoredPath:     "/tmp/old.pdf",
		SizeBytes:      1024,
		CreatedAt:      stale.SubmissionDate,
	}
	suite.AssertNoError(t, repo.InsertUpload(staleUpload))

	// Stale but paid: must survive.
	paidData := suite.GenerateTestRegistration()
	paid := paidData.ToRegistration()
	paid.SubmissionDate = time.Now().Add(-72 * time.Hour)
	suite.AssertNoError(t, data.InsertRegistration(paid))
	suite.AssertNoError(t, repo.UpdateOrder(paid.RegistrationID, fmt.Sprintf("order_KEEP%d", time.Now().UnixNano()), time.Now()))
	suite.AssertNoError(t, repo.UpdatePaymentVerified(paid.RegistrationID, "pay_keep", time.Now()))

	cutoff := time.Now().Add(-48 * time.Hour)

	paths, err := repo.ListAbandonedUploadPaths(cutoff)
	suite.AssertNoError(t, err)
	foundStale := false
	for _, p := range paths {
		if p == "/tmp/old.pdf" {
			foundStale = true
		}
	}
	if !foundStale {
		t.Error("Stale upload path missing from abandoned listing")
	}

	deleted, err := repo.DeleteAbandoned(cutoff)
	suite.AssertNoError(t, err)
	if deleted < 1 {
		t.Errorf("Expected at least one abandoned registration deleted, got %d", deleted)
	}

	if _, err := data.GetRegistrationByID(stale.RegistrationID); err == nil {
		t.Error("Abandoned registration should be gone")
	}
	if _, err := data.GetRegistrationByID(paid.RegistrationID); err != nil {
		t.Errorf("Paid registration should survive cleanup: %v", err)
	}
}
