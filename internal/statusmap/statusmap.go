package statusmap

import "github.com/BearBump/PartnerGate/internal/models"

// Словарь статусов партнёров живёт отдельно от нашего жизненного цикла.
// Несколько внешних стадий схлопываются в одну внутреннюю — это ожидаемо,
// сырой код сохраняется в истории (status_raw).
var toInternal = map[string]string{
	"0": models.PackageStatusAtWarehouse,
	"1": models.PackageStatusInTransit,
	"2": models.PackageStatusInTransit,
	"3": models.PackageStatusAtLocalPort,
	"4": models.PackageStatusAtLocalPort,
}

const receivedLabel = "RECEIVED AT WAREHOUSE"

var toLabel = map[string]string{
	"0": receivedLabel,
	"1": "IN TRANSIT",
	"2": "SHIPPED",
	"3": "AT LOCAL PORT",
	"4": "READY FOR PICKUP",
}

var serviceTiers = map[string]string{
	"AIR-STD": "AIR STANDARD",
	"AIR-EXP": "AIR EXPRESS",
	"SEA-STD": "SEA STANDARD",
}

// ToInternal тотальна: любой неизвестный код -> UNKNOWN, ошибок не бывает.
func ToInternal(externalCode string) string {
	if s, ok := toInternal[externalCode]; ok {
		return s
	}
	return models.PackageStatusUnknown
}

// DisplayLabel для неизвестных кодов отдаёт метку "received",
// чтобы в UI не было пустого статуса.
func DisplayLabel(externalCode string) string {
	if l, ok := toLabel[externalCode]; ok {
		return l
	}
	return receivedLabel
}

func ServiceTier(id string) string {
	if t, ok := serviceTiers[id]; ok {
		return t
	}
	return "UNSPECIFIED"
}
