package service

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/keyloyalty/internal/model"
)

// DefaultRedemptionOptions возвращает встроенный каталог способов погашения.
func DefaultRedemptionOptions() []model.RedemptionOption {
	return []model.RedemptionOption{
		{
			ID:          "send-money",
			Name:        "Send Money",
			Description: "Convert points to cash in your account",
			Type:        model.TransactionTransfer,
			MinPoints:   1,
		},
		{
			ID:          "airtime",
			Name:        "Airtime",
			Description: "Use points for airtime top-up",
			Type:        model.TransactionAirtime,
			MinPoints:   1,
		},
		{
			ID:          "data",
			Name:        "Data Purchase",
			Description: "Use points for mobile data bundles",
			Type:        model.TransactionAirtime,
			MinPoints:   1,
		},
		{
			ID:          "bills",
			Name:        "Bill Payments",
			Description: "Use points to pay utility and subscription bills",
			Type:        model.TransactionBillPayment,
			MinPoints:   1,
		},
	}
}

type catalogFile struct {
	Options []model.RedemptionOption `yaml:"options"`
}

// LoadCatalog читает каталог способов погашения из YAML-файла.
// Пустой путь означает встроенный каталог.
func LoadCatalog(path string) ([]model.RedemptionOption, error) {
	if path == "" {
		return DefaultRedemptionOptions(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read redemption catalog: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse redemption catalog %s: %w", path, err)
	}
	if len(f.Options) == 0 {
		return nil, fmt.Errorf("redemption catalog %s has no options", path)
	}

	for i, o := range f.Options {
		if o.ID == "" || o.Name == "" {
			return nil, fmt.Errorf("redemption catalog %s: option %d needs id and name", path, i)
		}
		t := model.ParseTransactionType(string(o.Type))
		if t == model.TransactionClearPoints {
			return nil, fmt.Errorf("redemption catalog %s: option %s has unsupported type %s", path, o.ID, o.Type)
		}
		f.Options[i].Type = t
		if o.MinPoints <= 0 {
			f.Options[i].MinPoints = 1
		}
	}

	return f.Options, nil
}
