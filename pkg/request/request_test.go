package request

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClassification(t *testing.T) {

	for _, s := range []Status{StatusComplete, StatusRejected, StatusCanceled} {
		assert.True(t, s.Terminal(), s.String())
		assert.False(t, s.InProgress(), s.String())
	}
	for _, s := range []Status{StatusBegin, StatusPending, StatusSvcPending, StatusApproved} {
		assert.False(t, s.Terminal(), s.String())
		assert.True(t, s.InProgress(), s.String())
	}

	_, err := ParseStatus("bogus")
	assert.True(t, errors.Is(err, ErrInvalidStatus))
}

func TestParseType(t *testing.T) {

	typ, err := ParseType("getRevocationInfo")
	require.Nil(t, err)
	assert.Equal(t, TypeGetRevocationInfo, typ)
	assert.True(t, typ.Disposable())
	assert.False(t, TypeEnrollment.Disposable())

	typ, err = ParseType("getrevocationinfo")
	require.Nil(t, err)
	assert.Equal(t, TypeGetRevocationInfo, typ)

	_, err = ParseType("keyRecovery")
	assert.True(t, errors.Is(err, ErrInvalidType))
}

func TestAttributesAreCopied(t *testing.T) {

	r := New("1", TypeEnrollment)

	list := StringList{"a", "b"}
	r.SetAttribute(AttrIssuedCerts, list)
	list[0] = "mutated"

	stored, ok := r.Attribute(AttrIssuedCerts)
	require.True(t, ok)
	assert.Equal(t, StringList{"a", "b"}, stored)

	stored.(StringList)[1] = "mutated"
	again, _ := r.Attribute(AttrIssuedCerts)
	assert.Equal(t, StringList{"a", "b"}, again)
}

func TestProfileRequest(t *testing.T) {

	r := New("1", TypeEnrollment)
	assert.False(t, r.IsProfileRequest())

	r.SetAttribute(AttrProfileID, String(""))
	assert.False(t, r.IsProfileRequest())

	r.SetAttribute(AttrProfileID, String("caServerCert"))
	assert.True(t, r.IsProfileRequest())
}

func TestCompareAndSetStatus(t *testing.T) {

	r := New("1", TypeEnrollment)
	r.SetStatus(StatusSvcPending)

	var wg sync.WaitGroup
	changed := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed <- r.CompareAndSetStatus(StatusSvcPending, StatusComplete)
		}()
	}
	wg.Wait()
	close(changed)

	winners := 0
	for c := range changed {
		if c {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, StatusComplete, r.Status())
}

func TestRecordRoundTrip(t *testing.T) {

	r := New("42", TypeRevocation)
	r.SetStatus(StatusSvcPending)
	r.SetRealm("default")
	r.SetAttribute(AttrRemoteRequestID, String("7"))
	r.SetAttribute(AttrCRL, Bytes{0x30, 0x82})
	r.SetAttribute(AttrOldSerials, StringList{"0x1", "0x2"})
	r.SetAttribute(AttrAgentParams, Map{"agent": "admin"})

	restored, err := FromRecord(r.Record())
	require.Nil(t, err)

	assert.Equal(t, r.ID(), restored.ID())
	assert.Equal(t, r.Type(), restored.Type())
	assert.Equal(t, r.Status(), restored.Status())
	assert.Equal(t, r.Realm(), restored.Realm())
	assert.Equal(t, r.Attributes(), restored.Attributes())
}

func TestFromRecordRejectsUnknownKind(t *testing.T) {

	record := New("1", TypeEnrollment).Record()
	record.Attributes["x"] = AttributeRecord{Kind: "float"}

	_, err := FromRecord(record)
	assert.True(t, errors.Is(err, ErrInvalidKind))
}
