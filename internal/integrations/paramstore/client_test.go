package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	in  *ssm.GetParameterInput
	out *ssm.GetParameterOutput
	err error
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.in = in
	return f.out, f.err
}

func TestNew_RequiresAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestGetParameter(t *testing.T) {
	api := &fakeSSM{out: &ssm.GetParameterOutput{
		Parameter: &types.Parameter{Value: aws.String("secret-value")},
	}}
	c, err := New(api)
	require.NoError(t, err)

	got, err := c.GetParameter(context.Background(), " /prefix/paystack-secret-key ")
	require.NoError(t, err)
	require.Equal(t, "secret-value", got)

	require.Equal(t, "/prefix/paystack-secret-key", *api.in.Name)
	require.True(t, *api.in.WithDecryption)
}

func TestGetParameter_RequiresName(t *testing.T) {
	c, err := New(&fakeSSM{})
	require.NoError(t, err)

	_, err = c.GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "name is required")
}

func TestGetParameter_APIErrorsAreWrapped(t *testing.T) {
	c, err := New(&fakeSSM{err: errors.New("access denied")})
	require.NoError(t, err)

	_, err = c.GetParameter(context.Background(), "/prefix/key")
	require.ErrorContains(t, err, "access denied")
}

func TestGetParameter_MissingValue(t *testing.T) {
	c, err := New(&fakeSSM{out: &ssm.GetParameterOutput{}})
	require.NoError(t, err)

	_, err = c.GetParameter(context.Background(), "/prefix/key")
	require.ErrorContains(t, err, "missing value")
}
