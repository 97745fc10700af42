package request

// Well known extension attribute names
const (
	AttrProfileID      = "profileId"
	AttrRequestType    = "requestType"
	AttrRequestID      = "requestId"
	AttrRequestVersion = "requestVersion"
	AttrAuthToken      = "AUTH_TOKEN"

	AttrHTTPParams         = "http_params"
	AttrAgentParams        = "agent_params"
	AttrCertInfo           = "CERT_INFO"
	AttrIssuedCerts        = "issuedCerts"
	AttrOldCerts           = "oldCerts"
	AttrOldSerials         = "oldSerials"
	AttrRevokedCerts       = "revokedCerts"
	AttrRevokedCertRecords = "revokedCertRecs"
	AttrRevokedReason      = "revokedReason"
	AttrSerialNumbers      = "serialNoArray"
	AttrCACertChain        = "CACertChain"
	AttrCRL                = "CRL"
	AttrErrors             = "errors"
	AttrResult             = "Result"
	AttrError              = "Error"
	AttrServiceErrors      = "serviceErrors"
	AttrRemoteStatus       = "remoteStatus"
	AttrRemoteRequestID    = "remoteReqID"
	AttrChallengePhrase    = "challengePhrase"
	AttrChallengeHash      = "challengePhraseHash"
	AttrChallengeSalt      = "challengePhraseSalt"
	AttrIssuerDN           = "issuerDN"
	AttrCertFilter         = "certFilter"
	AttrUID                = "uid"
	AttrPassword           = "password"
	AttrPasswordTag        = "pwd"

	ResultSuccess = "0"
	ResultError   = "1"
)
