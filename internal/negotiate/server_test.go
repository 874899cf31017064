package negotiate

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rcarmo/rdp-negotiate/internal/protocol/pdu"
	"github.com/rcarmo/rdp-negotiate/internal/protocol/x224"
)

func crBytes(userData []byte) []byte {
	cr := x224.ConnectionRequest{CRCDT: 0xE0, UserData: userData}
	return cr.Serialize()
}

func TestServerAccept_DecodesRequestedProtocols(t *testing.T) {
	req := pdu.NegotiationRequest{RequestedProtocols: pdu.NegotiationProtocolHybrid | pdu.NegotiationProtocolSSL}
	mock := &mockTransport{readQueue: [][]byte{crBytes(req.Serialize())}}

	s := NewServer(mock, ServerPolicy{SupportedProtocols: pdu.NegotiationProtocolHybrid | pdu.NegotiationProtocolSSL})

	require.NoError(t, s.Accept())
	require.Equal(t, pdu.NegotiationProtocolHybrid|pdu.NegotiationProtocolSSL, s.requestedProtocols)
}

func TestServerAccept_SkipsCookieLine(t *testing.T) {
	req := pdu.NegotiationRequest{RequestedProtocols: pdu.NegotiationProtocolSSL}
	userData := append([]byte("Cookie: mstshash=eltons\r\n"), req.Serialize()...)
	mock := &mockTransport{readQueue: [][]byte{crBytes(userData)}}

	s := NewServer(mock, ServerPolicy{SupportedProtocols: pdu.NegotiationProtocolSSL})

	require.NoError(t, s.Accept())
	require.Equal(t, pdu.NegotiationProtocolSSL, s.requestedProtocols)
}

func TestServerAccept_NoUserDataImpliesRDPOnly(t *testing.T) {
	mock := &mockTransport{readQueue: [][]byte{crBytes(nil)}}

	s := NewServer(mock, ServerPolicy{SupportedProtocols: pdu.NegotiationProtocolRDP})

	require.NoError(t, s.Accept())
	require.Equal(t, pdu.NegotiationProtocolRDP, s.requestedProtocols)
}

func TestServerAccept_TransportErrorFailsState(t *testing.T) {
	// empty readQueue: ReadFrame returns io.EOF immediately
	mock := &mockTransport{}
	s := NewServer(mock, ServerPolicy{})

	err := s.Accept()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTransportIOFailed)
	require.Equal(t, StateFail, s.State())
}

func TestServerAccept_MalformedRequestFailsState(t *testing.T) {
	mock := &mockTransport{readQueue: [][]byte{{0x01, 0x02}}}
	s := NewServer(mock, ServerPolicy{})

	err := s.Accept()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrProtocolDecode)
	require.Equal(t, StateFail, s.State())
}

func TestStrongestCommon(t *testing.T) {
	tests := []struct {
		name      string
		requested pdu.NegotiationProtocol
		supported pdu.NegotiationProtocol
		want      pdu.NegotiationProtocol
	}{
		{
			"both support NLA, picks NLA over TLS",
			pdu.NegotiationProtocolHybrid | pdu.NegotiationProtocolSSL,
			pdu.NegotiationProtocolHybrid | pdu.NegotiationProtocolSSL,
			pdu.NegotiationProtocolHybrid,
		},
		{
			"only TLS in common, picks TLS",
			pdu.NegotiationProtocolHybrid | pdu.NegotiationProtocolSSL,
			pdu.NegotiationProtocolSSL,
			pdu.NegotiationProtocolSSL,
		},
		{
			"no overlap, falls back to RDP",
			pdu.NegotiationProtocolHybrid,
			pdu.NegotiationProtocolSSL,
			pdu.NegotiationProtocolRDP,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, strongestCommon(tt.requested, tt.supported))
		})
	}
}

func TestSendNegotiationResponse_SelectsStrongestCommon(t *testing.T) {
	mock := &mockTransport{}
	s := NewServer(mock, ServerPolicy{SupportedProtocols: pdu.NegotiationProtocolHybrid | pdu.NegotiationProtocolSSL})
	s.requestedProtocols = pdu.NegotiationProtocolHybrid | pdu.NegotiationProtocolSSL | pdu.NegotiationProtocolRDP

	require.NoError(t, s.SendNegotiationResponse())
	require.Equal(t, StateFinal, s.State())
	require.Equal(t, pdu.NegotiationProtocolHybrid, s.SelectedProtocol())
	require.Len(t, mock.writeFrames, 1)

	var cc x224.ConnectionConfirm
	require.NoError(t, cc.Deserialize(bytes.NewReader(mock.writeFrames[0])))
}

func TestSendNegotiationResponse_RejectsStandardRDPWhenDisallowed(t *testing.T) {
	mock := &mockTransport{}
	s := NewServer(mock, ServerPolicy{AllowStandardRDP: false})
	s.requestedProtocols = pdu.NegotiationProtocolRDP

	require.NoError(t, s.SendNegotiationResponse())
	require.Equal(t, StateFail, s.State())
	require.Len(t, mock.writeFrames, 1)
}

func TestSendNegotiationResponse_ImplicitRDPWhenAllowed(t *testing.T) {
	mock := &mockTransport{}
	s := NewServer(mock, ServerPolicy{AllowStandardRDP: true, HasServerKey: true})
	s.requestedProtocols = pdu.NegotiationProtocolRDP

	require.NoError(t, s.SendNegotiationResponse())
	require.Equal(t, StateFinal, s.State())
	require.Equal(t, pdu.NegotiationProtocolRDP, s.SelectedProtocol())
}

func TestSendNegotiationResponse_ErrorsWhenRDPSelectedWithoutServerKey(t *testing.T) {
	mock := &mockTransport{}
	s := NewServer(mock, ServerPolicy{AllowStandardRDP: true, HasServerKey: false})
	s.requestedProtocols = pdu.NegotiationProtocolRDP

	err := s.SendNegotiationResponse()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrConfigurationInvalid)
	require.Empty(t, mock.writeFrames)
}

func TestSendNegotiationResponse_WriteFailurePropagates(t *testing.T) {
	mock := &mockTransport{writeErr: errors.New("connection reset")}
	s := NewServer(mock, ServerPolicy{SupportedProtocols: pdu.NegotiationProtocolSSL})
	s.requestedProtocols = pdu.NegotiationProtocolSSL

	err := s.SendNegotiationResponse()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTransportIOFailed)
	require.Equal(t, StateFail, s.State())
}
