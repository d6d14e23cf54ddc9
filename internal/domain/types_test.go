package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAsset(t *testing.T) {
	asset, err := NormalizeAsset(" usd ")
	require.Nil(t, err)
	assert.Equal(t, "USD", asset)

	_, err = NormalizeAsset("US")
	require.NotNil(t, err)
	assert.Equal(t, KindValidation, err.Kind)

	_, err = NormalizeAsset("TOOLONGASSETCODE")
	require.NotNil(t, err)
}

func TestAmount_ParseAmount(t *testing.T) {
	d, err := Amount("10.25").ParseAmount()
	require.Nil(t, err)
	assert.Equal(t, "10.25", d.String())

	_, err = Amount("0").ParseAmount()
	require.NotNil(t, err)
	assert.Equal(t, KindValidation, err.Kind)

	_, err = Amount("-1.00").ParseAmount()
	require.NotNil(t, err)

	_, err = Amount("not-a-number").ParseAmount()
	require.NotNil(t, err)
}

func TestTransferRequest_Validate(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	valid := TransferRequest{FromWalletID: a, ToWalletID: b, Amount: "10.25", Asset: "USD"}
	assert.Nil(t, valid.Validate())

	selfTransfer := TransferRequest{FromWalletID: a, ToWalletID: a, Amount: "10.25", Asset: "USD"}
	err := selfTransfer.Validate()
	require.NotNil(t, err)
	assert.Equal(t, KindValidation, err.Kind)

	zeroAmount := TransferRequest{FromWalletID: a, ToWalletID: b, Amount: "0", Asset: "USD"}
	require.NotNil(t, zeroAmount.Validate())

	missingWallet := TransferRequest{FromWalletID: uuid.Nil, ToWalletID: b, Amount: "1", Asset: "USD"}
	require.NotNil(t, missingWallet.Validate())
}

func TestAdjustmentRequest_Validate(t *testing.T) {
	w := uuid.New()

	valid := AdjustmentRequest{WalletID: w, Amount: "5.00", Direction: DirectionCredit, Asset: "USD", Reason: "bonus"}
	assert.Nil(t, valid.Validate())

	badDirection := AdjustmentRequest{WalletID: w, Amount: "5.00", Direction: "sideways", Asset: "USD", Reason: "bonus"}
	require.NotNil(t, badDirection.Validate())

	noReason := AdjustmentRequest{WalletID: w, Amount: "5.00", Direction: DirectionDebit, Asset: "USD"}
	require.NotNil(t, noReason.Validate())
}
