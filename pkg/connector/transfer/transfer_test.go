package transfer

import (
	"testing"

	"github.com/jeremyhahn/go-trusted-relay/pkg/connector/message"
	"github.com/jeremyhahn/go-trusted-relay/pkg/request"
	"github.com/stretchr/testify/assert"
)

func keys(attrs request.Attributes) []string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	return names
}

func TestProfileRequestTransfersAllButExcluded(t *testing.T) {

	src := request.New("1", request.TypeEnrollment)
	src.SetAttribute(request.AttrProfileID, request.String("caUserCert"))
	src.SetAttribute("foo", request.String("bar"))
	src.SetAttribute(request.AttrAuthToken, request.Map{"uid": "admin"})
	src.SetAttribute(request.AttrRequestID, request.String("1"))

	msg := &message.Message{}
	ToMessage(src, msg)
	assert.ElementsMatch(t, []string{request.AttrProfileID, "foo"}, keys(msg.Attributes))

	dst := request.New("2", request.TypeEnrollment)
	reply := message.New("ca:9", request.TypeEnrollment, request.StatusComplete)
	reply.Attributes = src.Attributes()
	ToRequest(reply, dst)
	assert.ElementsMatch(t, []string{request.AttrProfileID, "foo"}, keys(dst.Attributes()))
}

func TestExcludedAttributesForProfileRequests(t *testing.T) {

	for _, name := range []string{
		request.AttrRequestType,
		request.AttrRequestID,
		request.AttrRequestVersion,
		request.AttrAuthToken,
	} {
		assert.False(t, Transferable(name, true), name)
	}
	assert.True(t, Transferable("anything", true))
}

func TestNonProfileAllowList(t *testing.T) {

	src := request.New("1", request.TypeRevocation)
	src.SetAttribute(request.AttrRevokedCerts, request.StringList{"0x1"})
	src.SetAttribute("unknownAttribute", request.String("x"))

	msg := &message.Message{}
	ToMessage(src, msg)
	assert.ElementsMatch(t, []string{request.AttrRevokedCerts}, keys(msg.Attributes))

	dst := request.New("2", request.TypeRevocation)
	reply := message.New("ca:9", request.TypeRevocation, request.StatusComplete)
	reply.Attributes = src.Attributes()
	ToRequest(reply, dst)
	assert.ElementsMatch(t, []string{request.AttrRevokedCerts}, keys(dst.Attributes()))
}

func TestTransferOverwritesAndDeepCopies(t *testing.T) {

	dst := request.New("1", request.TypeEnrollment)
	dst.SetAttribute(request.AttrIssuedCerts, request.StringList{"old"})

	chain := request.Map{"0": "root", "1": "intermediate"}
	reply := message.New("ca:9", request.TypeEnrollment, request.StatusComplete)
	reply.Attributes[request.AttrIssuedCerts] = request.StringList{"new"}
	reply.Attributes[request.AttrCACertChain] = chain

	ToRequest(reply, dst)
	chain["0"] = "mutated"

	issued, _ := dst.Attribute(request.AttrIssuedCerts)
	assert.Equal(t, request.StringList{"new"}, issued)

	stored, _ := dst.Attribute(request.AttrCACertChain)
	assert.Equal(t, request.Map{"0": "root", "1": "intermediate"}, stored)
}

func TestInboundProjectionIsIdempotent(t *testing.T) {

	reply := message.New("ca:9", request.TypeEnrollment, request.StatusComplete)
	reply.Attributes[request.AttrIssuedCerts] = request.StringList{"cert"}
	reply.Attributes[request.AttrCACertChain] = request.Map{"0": "root"}
	reply.Attributes[request.AttrCRL] = request.Bytes{0x01}
	reply.Attributes[request.AttrRemoteRequestID] = request.String("9")

	once := request.New("1", request.TypeEnrollment)
	ToRequest(reply, once)

	twice := request.New("1", request.TypeEnrollment)
	ToRequest(reply, twice)
	ToRequest(reply, twice)

	assert.Equal(t, once.Attributes(), twice.Attributes())
}
