package decoder

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardeum/relayer-collector/internal/model"
)

// fakeCaller 按方法名返回预先打包的输出
type fakeCaller struct {
	abi        abi.ABI
	outputs    map[string][]interface{}
	interfaces map[[4]byte]bool
}

func newFakeCaller(t *testing.T) *fakeCaller {
	parsed, err := abi.JSON(strings.NewReader(TokenABI))
	require.NoError(t, err)
	return &fakeCaller{
		abi:        parsed,
		outputs:    make(map[string][]interface{}),
		interfaces: make(map[[4]byte]bool),
	}
}

func (f *fakeCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	method, err := f.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	if method.Name == "supportsInterface" {
		var id [4]byte
		copy(id[:], call.Data[4:8])
		return method.Outputs.Pack(f.interfaces[id])
	}
	out, ok := f.outputs[method.Name]
	if !ok {
		return nil, nil
	}
	return method.Outputs.Pack(out...)
}

func resolve(t *testing.T, f *fakeCaller) (model.ContractInfo, model.ContractType) {
	t.Helper()
	r, err := NewContractInfoResolver(f)
	require.NoError(t, err)
	raw, typ, err := r.Resolve(context.Background(), tokenContract)
	require.NoError(t, err)
	var info model.ContractInfo
	require.NoError(t, json.Unmarshal(raw, &info))
	return info, typ
}

func TestResolveERC20(t *testing.T) {
	f := newFakeCaller(t)
	f.outputs["name"] = []interface{}{"Test Token"}
	f.outputs["symbol"] = []interface{}{"TT"}
	f.outputs["decimals"] = []interface{}{uint8(18)}
	supply, _ := new(big.Int).SetString("1500000000000000000000", 10)
	f.outputs["totalSupply"] = []interface{}{supply}

	info, typ := resolve(t, f)
	assert.Equal(t, model.ContractTypeERC20, typ)
	assert.Equal(t, "Test Token", info.Name)
	assert.Equal(t, "TT", info.Symbol)
	assert.Equal(t, "18", info.Decimals)
	assert.Equal(t, "1500000000000000000000", info.TotalSupply)
	assert.Equal(t, "1500", info.TotalSupplyFormatted)
}

func TestResolveNFT(t *testing.T) {
	f := newFakeCaller(t)
	f.outputs["name"] = []interface{}{"Kitties"}
	f.outputs["symbol"] = []interface{}{"KT"}
	f.interfaces[InterfaceERC721] = true

	info, typ := resolve(t, f)
	assert.Equal(t, model.ContractTypeERC721, typ)
	assert.Equal(t, "Kitties", info.Name)
	assert.Empty(t, info.Decimals)

	// 同时声明两种接口时优先判定为 1155
	f.interfaces[InterfaceERC1155] = true
	_, typ = resolve(t, f)
	assert.Equal(t, model.ContractTypeERC1155, typ)
}

func TestResolveGeneric(t *testing.T) {
	f := newFakeCaller(t)
	f.outputs["name"] = []interface{}{"Half"}

	info, typ := resolve(t, f)
	assert.Equal(t, model.ContractTypeGeneric, typ)
	assert.Equal(t, "Half", info.Name)
	assert.Empty(t, info.Symbol)
}
