package decoder

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/shardeum/relayer-collector/internal/model"
)

// TokenABI 合约信息查询所需的最小 ABI
const TokenABI = `[
	{"type":"function","name":"name","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"},
	{"type":"function","name":"symbol","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"},
	{"type":"function","name":"decimals","inputs":[],"outputs":[{"name":"","type":"uint8"}],"stateMutability":"view"},
	{"type":"function","name":"totalSupply","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"supportsInterface","inputs":[{"name":"interfaceId","type":"bytes4"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"}
]`

// ERC-165 接口 ID
var (
	InterfaceERC721  = [4]byte{0x80, 0xac, 0x58, 0xcd}
	InterfaceERC1155 = [4]byte{0xd9, 0xb6, 0x7a, 0x26}
)

// ContractInfoResolver 通过 eth_call 查询合约元数据并判定合约类型
type ContractInfoResolver struct {
	caller bind.ContractCaller
	abi    abi.ABI
}

// NewContractInfoResolver 创建解析器, caller 一般为 ethclient.Client
func NewContractInfoResolver(caller bind.ContractCaller) (*ContractInfoResolver, error) {
	parsed, err := abi.JSON(strings.NewReader(TokenABI))
	if err != nil {
		return nil, err
	}
	return &ContractInfoResolver{caller: caller, abi: parsed}, nil
}

// Resolve 返回合约信息 JSON 与类型, 查询失败的字段留空
func (r *ContractInfoResolver) Resolve(ctx context.Context, address string) (json.RawMessage, model.ContractType, error) {
	addr := common.HexToAddress(address)
	info := model.ContractInfo{}

	if r.supports(ctx, addr, InterfaceERC1155) {
		info.Name, _ = r.callString(ctx, addr, "name")
		info.Symbol, _ = r.callString(ctx, addr, "symbol")
		raw, err := json.Marshal(info)
		return raw, model.ContractTypeERC1155, err
	}

	name, nameErr := r.callString(ctx, addr, "name")
	symbol, symbolErr := r.callString(ctx, addr, "symbol")
	info.Name, info.Symbol = name, symbol

	if r.supports(ctx, addr, InterfaceERC721) {
		raw, err := json.Marshal(info)
		return raw, model.ContractTypeERC721, err
	}

	decimals, decErr := r.callDecimals(ctx, addr)
	supply, supplyErr := r.callBig(ctx, addr, "totalSupply")
	if nameErr == nil && symbolErr == nil && decErr == nil && supplyErr == nil {
		info.Decimals = fmt.Sprintf("%d", decimals)
		info.TotalSupply = supply.String()
		info.TotalSupplyFormatted = decimal.NewFromBigInt(supply, -int32(decimals)).String()
		raw, err := json.Marshal(info)
		return raw, model.ContractTypeERC20, err
	}

	raw, err := json.Marshal(info)
	return raw, model.ContractTypeGeneric, err
}

func (r *ContractInfoResolver) call(ctx context.Context, addr common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	result, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return r.abi.Unpack(method, result)
}

func (r *ContractInfoResolver) callString(ctx context.Context, addr common.Address, method string) (string, error) {
	out, err := r.call(ctx, addr, method)
	if err != nil {
		return "", err
	}
	s, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("%s: unexpected type %T", method, out[0])
	}
	return s, nil
}

func (r *ContractInfoResolver) callDecimals(ctx context.Context, addr common.Address) (uint8, error) {
	out, err := r.call(ctx, addr, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T", out[0])
	}
	return d, nil
}

func (r *ContractInfoResolver) callBig(ctx context.Context, addr common.Address, method string) (*big.Int, error) {
	out, err := r.call(ctx, addr, method)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, out[0])
	}
	return v, nil
}

func (r *ContractInfoResolver) supports(ctx context.Context, addr common.Address, id [4]byte) bool {
	out, err := r.call(ctx, addr, "supportsInterface", id)
	if err != nil {
		return false
	}
	ok, _ := out[0].(bool)
	return ok
}
