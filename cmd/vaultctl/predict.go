package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"vaultledger/internal/config"
	"vaultledger/internal/factory"
)

func newPredictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict the address a factory will deploy a pool at",
		RunE:  runPredict,
	}
	cmd.Flags().String("factory", "", "factory address")
	cmd.Flags().String("implementation", "", "vault implementation address the clone delegates to")
	cmd.Flags().String("deployer", "", "account that will call deployPool")
	cmd.Flags().String("asset", "", "pool asset address")
	cmd.Flags().String("name", "", "pool share name")
	cmd.Flags().String("symbol", "", "pool share symbol")
	return cmd
}

type prediction struct {
	Factory      string `json:"factory"`
	Deployer     string `json:"deployer"`
	Asset        string `json:"asset"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	Salt         string `json:"salt"`
	InitCodeHash string `json:"init_code_hash"`
	Address      string `json:"address"`
}

func runPredict(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadPredict(configFile(cmd), cmd.Flags())
	if err != nil {
		return err
	}
	out, err := predict(cfg)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func predict(cfg config.PredictConfig) (prediction, error) {
	inputs := []struct{ key, value string }{
		{"factory", cfg.Factory},
		{"implementation", cfg.Implementation},
		{"deployer", cfg.Deployer},
		{"asset", cfg.Asset},
	}
	addrs := make(map[string]common.Address, len(inputs))
	for _, in := range inputs {
		if !common.IsHexAddress(in.value) {
			return prediction{}, fmt.Errorf("invalid %s address: %q", in.key, in.value)
		}
		addrs[in.key] = common.HexToAddress(in.value)
	}

	salt, err := factory.Salt(addrs["deployer"], addrs["asset"], cfg.Name, cfg.Symbol)
	if err != nil {
		return prediction{}, err
	}
	return prediction{
		Factory:      addrs["factory"].Hex(),
		Deployer:     addrs["deployer"].Hex(),
		Asset:        addrs["asset"].Hex(),
		Name:         cfg.Name,
		Symbol:       cfg.Symbol,
		Salt:         salt.Hex(),
		InitCodeHash: crypto.Keccak256Hash(factory.ProxyInitCode(addrs["implementation"])).Hex(),
		Address:      factory.CloneAddress(addrs["factory"], addrs["implementation"], salt).Hex(),
	}, nil
}
