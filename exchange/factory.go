package exchange

import (
	"fmt"
	"time"

	"tradelens/config"
	"tradelens/exchange/binance"
	"tradelens/exchange/kraken"
)

// NewExchange 根据配置创建交易所网关实例
func NewExchange(cfg *config.Config) (IExchange, error) {
	exchangeName := cfg.App.CurrentExchange
	timeout := time.Duration(cfg.Sync.GatewayTimeout) * time.Second

	switch exchangeName {
	case "kraken":
		exchangeCfg, exists := cfg.Exchanges["kraken"]
		if !exists {
			return nil, fmt.Errorf("kraken 配置不存在")
		}
		client := kraken.NewKrakenClient(exchangeCfg.APIKey, exchangeCfg.SecretKey, timeout)
		return &krakenWrapper{client: client}, nil

	case "binance":
		exchangeCfg, exists := cfg.Exchanges["binance"]
		if !exists {
			return nil, fmt.Errorf("binance 配置不存在")
		}
		cfgMap := map[string]string{
			"api_key":    exchangeCfg.APIKey,
			"secret_key": exchangeCfg.SecretKey,
			"testnet":    fmt.Sprintf("%v", exchangeCfg.Testnet),
		}
		adapter, err := binance.NewBinanceAdapter(cfgMap, cfg.Sync.Pairs)
		if err != nil {
			return nil, err
		}
		return &binanceWrapper{adapter: adapter}, nil

	default:
		return nil, fmt.Errorf("不支持的交易所: %s", exchangeName)
	}
}
