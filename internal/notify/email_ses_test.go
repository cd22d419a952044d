package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanamente-ai/sanamente-platform/pkg/logging"
)

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, params)
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-msg-1")}, nil
}

func TestSESSenderSend(t *testing.T) {
	api := &fakeSES{}
	sender := &SESSender{client: api, fromEmail: "alerts@sanamente.mx", fromName: "Sanamente", logger: logging.Default()}

	err := sender.Send(context.Background(), EmailMessage{
		To:      "dra.lopez@clinica.mx",
		Subject: "Alerta",
		Body:    "Revisa la conversación.",
	})
	require.NoError(t, err)

	require.Len(t, api.inputs, 1)
	input := api.inputs[0]
	assert.Equal(t, "Sanamente <alerts@sanamente.mx>", aws.ToString(input.FromEmailAddress))
	assert.Equal(t, []string{"dra.lopez@clinica.mx"}, input.Destination.ToAddresses)
	assert.Equal(t, "Alerta", aws.ToString(input.Content.Simple.Subject.Data))
	assert.Equal(t, "Revisa la conversación.", aws.ToString(input.Content.Simple.Body.Text.Data))
}

func TestSESSenderSendFailure(t *testing.T) {
	sesErr := errors.New("throttled")
	sender := &SESSender{client: &fakeSES{err: sesErr}, fromEmail: "a@b.mx", fromName: "S", logger: logging.Default()}

	err := sender.Send(context.Background(), EmailMessage{To: "x@y.mx", Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, sesErr)
}

func TestNewSESSenderNilClientIsDisabled(t *testing.T) {
	assert.Nil(t, NewSESSender(nil, SESConfig{FromEmail: "a@b.mx"}, nil))
}
