package bookings

import (
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/lingora/booking/models"
	"github.com/lingora/booking/models/bookings"
	"github.com/lingora/booking/test"
	"github.com/lingora/booking/test/factory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	defer test.TearDown(t)
	b := factory.CreateBooking(t, factory.SampleParams)
	assert.Equal(t, models.StatusCreated, b.Status)
	assert.False(t, b.TranslatorID.Valid)

	got, err := bookings.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID.String(), got.ID.String())
	assert.Equal(t, "cust_7", got.CustomerID)
	assert.Equal(t, "spanish", got.LanguageTo)
	assert.Equal(t, "stockholm", got.Town)
	assert.True(t, got.Due.Valid)
}

func TestGetUnknownReturnsErrNotFound(t *testing.T) {
	defer test.TearDown(t)
	test.SetUp(t)
	_, err := bookings.Get(factory.RandomId(bookings.Prefix))
	assert.Equal(t, bookings.ErrNotFound, err)
}

func TestGetRetry(t *testing.T) {
	defer test.TearDown(t)
	b := factory.CreateBooking(t, factory.SampleParams)

	got, err := bookings.GetRetry(b.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, b.ID.String(), got.ID.String())

	// ErrNotFound is terminal, it does not burn the remaining attempts.
	_, err = bookings.GetRetry(factory.RandomId(bookings.Prefix), 3)
	assert.Equal(t, bookings.ErrNotFound, err)
}

func TestOfferOnlyFromCreated(t *testing.T) {
	defer test.TearDown(t)
	b := factory.CreateOfferedBooking(t, factory.SampleParams)
	assert.Equal(t, models.StatusOffered, b.Status)

	_, err := bookings.Offer(b.ID)
	werr, ok := err.(*bookings.WrongStateError)
	require.True(t, ok, "expected a *WrongStateError, got %#v", err)
	assert.Equal(t, models.StatusOffered, werr.Current)
}

func TestAcceptAssignsTranslator(t *testing.T) {
	defer test.TearDown(t)
	b := factory.CreateOfferedBooking(t, factory.SampleParams)
	accepted, err := bookings.Accept(b.ID, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, accepted.Status)
	require.True(t, accepted.TranslatorID.Valid)
	assert.Equal(t, "usr_1", accepted.TranslatorID.String)
}

func TestAcceptSingleWinner(t *testing.T) {
	defer test.TearDown(t)
	b := factory.CreateOfferedBooking(t, factory.SampleParams)

	const contenders = 20
	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = bookings.Accept(b.ID, fmt.Sprintf("usr_%d", i))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		werr, ok := err.(*bookings.WrongStateError)
		require.True(t, ok, "expected a *WrongStateError, got %#v", err)
		assert.Equal(t, models.StatusAccepted, werr.Current)
	}
	assert.Equal(t, 1, winners)

	got, err := bookings.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, got.Status)
	assert.True(t, got.TranslatorID.Valid)
}

func TestAcceptFromReopened(t *testing.T) {
	defer test.TearDown(t)
	b := factory.CreateAcceptedBooking(t, factory.SampleParams, "usr_1")
	_, err := bookings.Cancel(b.ID)
	require.NoError(t, err)
	reopened, err := bookings.Reopen(b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReopened, reopened.Status)
	assert.False(t, reopened.TranslatorID.Valid)

	accepted, err := bookings.Accept(b.ID, "usr_2")
	require.NoError(t, err)
	assert.Equal(t, "usr_2", accepted.TranslatorID.String)
}

func TestStartAndEnd(t *testing.T) {
	defer test.TearDown(t)
	b := factory.CreateAcceptedBooking(t, factory.SampleParams, "usr_1")

	started, err := bookings.Start(b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, started.Status)

	ended, err := bookings.End(b.ID, sql.NullString{String: "01:30:00", Valid: true})
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnded, ended.Status)
	require.True(t, ended.TranslatorID.Valid)
	assert.Equal(t, "usr_1", ended.TranslatorID.String)
	require.True(t, ended.SessionTime.Valid)
	assert.Equal(t, "01:30:00", ended.SessionTime.String)
}

func TestEndRequiresInProgress(t *testing.T) {
	defer test.TearDown(t)
	b := factory.CreateAcceptedBooking(t, factory.SampleParams, "usr_1")
	_, err := bookings.End(b.ID, sql.NullString{})
	werr, ok := err.(*bookings.WrongStateError)
	require.True(t, ok, "expected a *WrongStateError, got %#v", err)
	assert.Equal(t, models.StatusAccepted, werr.Current)
}

func TestCancelClearsAssignee(t *testing.T) {
	defer test.TearDown(t)

	accepted := factory.CreateAcceptedBooking(t, factory.SampleParams, "usr_1")
	cancelled, err := bookings.Cancel(accepted.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.False(t, cancelled.TranslatorID.Valid)

	inProgress := factory.CreateAcceptedBooking(t, factory.SampleParams, "usr_1")
	_, err = bookings.Start(inProgress.ID)
	require.NoError(t, err)
	cancelled, err = bookings.Cancel(inProgress.ID)
	require.NoError(t, err)
	assert.False(t, cancelled.TranslatorID.Valid)
}

func TestCancelBeforeAcceptanceFails(t *testing.T) {
	defer test.TearDown(t)

	created := factory.CreateBooking(t, factory.SampleParams)
	_, err := bookings.Cancel(created.ID)
	werr, ok := err.(*bookings.WrongStateError)
	require.True(t, ok, "expected a *WrongStateError, got %#v", err)
	assert.Equal(t, models.StatusCreated, werr.Current)

	offered := factory.CreateOfferedBooking(t, factory.SampleParams)
	_, err = bookings.Cancel(offered.ID)
	werr, ok = err.(*bookings.WrongStateError)
	require.True(t, ok, "expected a *WrongStateError, got %#v", err)
	assert.Equal(t, models.StatusOffered, werr.Current)
}

func TestCancelEndedFails(t *testing.T) {
	defer test.TearDown(t)
	b := factory.CreateAcceptedBooking(t, factory.SampleParams, "usr_1")
	_, err := bookings.Start(b.ID)
	require.NoError(t, err)
	_, err = bookings.End(b.ID, sql.NullString{})
	require.NoError(t, err)

	_, err = bookings.Cancel(b.ID)
	werr, ok := err.(*bookings.WrongStateError)
	require.True(t, ok, "expected a *WrongStateError, got %#v", err)
	assert.Equal(t, models.StatusEnded, werr.Current)
}

func TestReopenIsIdempotent(t *testing.T) {
	defer test.TearDown(t)
	b := factory.CreateAcceptedBooking(t, factory.SampleParams, "usr_1")
	_, err := bookings.Cancel(b.ID)
	require.NoError(t, err)

	first, err := bookings.Reopen(b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReopened, first.Status)

	second, err := bookings.Reopen(b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReopened, second.Status)
	assert.False(t, second.TranslatorID.Valid)
}

func TestReopenFromOfferedFails(t *testing.T) {
	defer test.TearDown(t)
	b := factory.CreateOfferedBooking(t, factory.SampleParams)
	_, err := bookings.Reopen(b.ID)
	werr, ok := err.(*bookings.WrongStateError)
	require.True(t, ok, "expected a *WrongStateError, got %#v", err)
	assert.Equal(t, models.StatusOffered, werr.Current)
}

func TestMarkNotCalled(t *testing.T) {
	defer test.TearDown(t)
	b := factory.CreateBooking(t, factory.SampleParams)
	require.NoError(t, bookings.MarkNotCalled(b.ID))

	got, err := bookings.Get(b.ID)
	require.NoError(t, err)
	assert.True(t, got.NotCalled)
}

func TestMarkNotCalledUnknownBooking(t *testing.T) {
	defer test.TearDown(t)
	test.SetUp(t)
	err := bookings.MarkNotCalled(factory.RandomId(bookings.Prefix))
	assert.Equal(t, bookings.ErrNotFound, err)
}

func TestUpdateAppliesOnlyProvidedFields(t *testing.T) {
	defer test.TearDown(t)
	b := factory.CreateBooking(t, factory.SampleParams)
	town := "gothenburg"
	updated, err := bookings.Update(b.ID, bookings.UpdateParams{Town: &town})
	require.NoError(t, err)
	assert.Equal(t, "gothenburg", updated.Town)
	assert.Equal(t, b.LanguageTo, updated.LanguageTo)
}

func TestUpdateAdminMeta(t *testing.T) {
	defer test.TearDown(t)
	b := factory.CreateBooking(t, factory.SampleParams)

	// Nothing to apply.
	updated, err := bookings.UpdateAdminMeta(b.ID, bookings.AdminMetaParams{})
	require.NoError(t, err)
	assert.False(t, updated)

	// Flagging requires a comment.
	flagged := true
	_, err = bookings.UpdateAdminMeta(b.ID, bookings.AdminMetaParams{Flagged: &flagged})
	assert.Equal(t, bookings.ErrCommentRequired, err)

	comment := "customer asked for a different translator"
	updated, err = bookings.UpdateAdminMeta(b.ID, bookings.AdminMetaParams{Flagged: &flagged, Comment: &comment})
	require.NoError(t, err)
	assert.True(t, updated)

	got, err := bookings.Get(b.ID)
	require.NoError(t, err)
	assert.True(t, got.Flagged)
	require.True(t, got.AdminComment.Valid)
	assert.Equal(t, comment, got.AdminComment.String)

	// Resubmitting the same values still counts as an update; the row
	// matched.
	updated, err = bookings.UpdateAdminMeta(b.ID, bookings.AdminMetaParams{Flagged: &flagged, Comment: &comment})
	require.NoError(t, err)
	assert.True(t, updated)
}

func TestUpdateAdminMetaUnknownBooking(t *testing.T) {
	defer test.TearDown(t)
	test.SetUp(t)
	handled := true
	_, err := bookings.UpdateAdminMeta(factory.RandomId(bookings.Prefix), bookings.AdminMetaParams{ManuallyHandled: &handled})
	assert.Equal(t, bookings.ErrNotFound, err)
}

func TestGetHistory(t *testing.T) {
	defer test.TearDown(t)
	b := factory.CreateAcceptedBooking(t, factory.SampleParams, "usr_1")
	_, err := bookings.Start(b.ID)
	require.NoError(t, err)
	_, err = bookings.End(b.ID, sql.NullString{})
	require.NoError(t, err)

	open := factory.CreateOfferedBooking(t, factory.SampleParams)

	history, err := bookings.GetHistory("cust_7")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, b.ID.String(), history[0].ID.String())

	// The ended booking keeps its assignee, so the translator sees it too.
	history, err = bookings.GetHistory("usr_1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, b.ID.String(), history[0].ID.String())

	_, err = bookings.Get(open.ID)
	require.NoError(t, err)
}

func TestGetPotentialFiltersLanguageAndTown(t *testing.T) {
	defer test.TearDown(t)
	offered := factory.CreateOfferedBooking(t, factory.SampleParams)
	factory.CreateBooking(t, factory.SampleParams) // still created, not in the pool

	pool, err := bookings.GetPotential([]string{"spanish", "french"}, "stockholm")
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, offered.ID.String(), pool[0].ID.String())

	pool, err = bookings.GetPotential([]string{"german"}, "stockholm")
	require.NoError(t, err)
	assert.Len(t, pool, 0)

	pool, err = bookings.GetPotential([]string{"spanish"}, "malmo")
	require.NoError(t, err)
	assert.Len(t, pool, 0)
}

func TestGetCountsByStatus(t *testing.T) {
	defer test.TearDown(t)
	factory.CreateBooking(t, factory.SampleParams)
	factory.CreateOfferedBooking(t, factory.SampleParams)
	factory.CreateOfferedBooking(t, factory.SampleParams)

	counts, err := bookings.GetCountsByStatus()
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.StatusCreated])
	assert.Equal(t, int64(2), counts[models.StatusOffered])
}
