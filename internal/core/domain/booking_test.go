package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemType_Resource(t *testing.T) {
	res, err := ItemEvent.Resource()
	require.NoError(t, err)
	assert.Equal(t, "events", res)

	res, err = ItemProduct.Resource()
	require.NoError(t, err)
	assert.Equal(t, "products", res)

	_, err = ItemType("voucher").Resource()
	assert.Error(t, err)
}

func TestItemType_TracksSeats(t *testing.T) {
	assert.True(t, ItemEvent.TracksSeats())
	assert.True(t, ItemCourse.TracksSeats())
	assert.False(t, ItemProduct.TracksSeats())
}

func TestBookingStatus_IsFinal(t *testing.T) {
	assert.True(t, BookingCompleted.IsFinal())
	assert.False(t, BookingFailed.IsFinal())
	assert.False(t, BookingProcessing.IsFinal())
}

func TestAvailability(t *testing.T) {
	assert.Equal(t, int64(-1), Availability(0, 10))
	assert.Equal(t, int64(5), Availability(20, 15))
	assert.Equal(t, int64(0), Availability(20, 25))
}

func TestCanBook(t *testing.T) {
	assert.True(t, CanBook(0, 100, 3), "unlimited capacity")
	assert.True(t, CanBook(10, 7, 3))
	assert.False(t, CanBook(10, 8, 3))
	assert.False(t, CanBook(10, 0, 0), "zero quantity")
	assert.False(t, CanBook(10, 10, 1))
}
