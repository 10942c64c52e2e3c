package usecase

import (
	"math"

	"github.com/paincake00/dispatchcore/internal/entity"
)

// VerificationInput данные одной проверки прибытия.
type VerificationInput struct {
	// ExpectedClientID клиент, к которому относится назначение.
	ExpectedClientID string
	Scan             entity.ScanPayload
	// Reporter текущие координаты супервайзера, если есть.
	Reporter *entity.Coordinates
	// Site зарегистрированные координаты объекта, если известны.
	Site *entity.Coordinates
}

// VerificationResult решение сервиса проверки.
type VerificationResult struct {
	Accepted       bool
	Reason         entity.VerificationReason
	DistanceMeters *float64
	Unconfirmed    bool
}

// VerificationService решает, находится ли супервайзер на объекте.
// Не хранит состояния и не повторяет попытки: одинаковый вход дает одинаковый результат.
type VerificationService struct {
	ProximityMeters float64
}

// NewVerificationService создает сервис проверки с радиусом proximityMeters.
func NewVerificationService(proximityMeters float64) *VerificationService {
	return &VerificationService{ProximityMeters: proximityMeters}
}

// distanceMeters вычисляет расстояние между двумя точками в метрах, используя формулу Хаверсина (Haversine).
func distanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000 // Радиус Земли в метрах
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaPhi := (lat2 - lat1) * math.Pi / 180
	deltaLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*
			math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return R * c
}

// Distance расстояние между точками в метрах.
func Distance(a, b entity.Coordinates) float64 {
	return distanceMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// Verify проверяет код объекта и геопозицию:
//  1. идентификатор клиента из кода должен совпасть точно, иначе client_mismatch без проверки расстояния;
//  2. если известны обе точки, расстояние должно быть не больше ProximityMeters, иначе out_of_range;
//  3. если координаты объекта неизвестны, прибытие принимается с флагом unconfirmed_location.
//
// Если координаты объекта известны, а координат супервайзера нет, результат location_unavailable.
func (s *VerificationService) Verify(in VerificationInput) VerificationResult {
	if in.Scan.ClientID == "" || in.Scan.ClientID != in.ExpectedClientID {
		return VerificationResult{Reason: entity.ReasonClientMismatch}
	}

	if in.Site == nil {
		return VerificationResult{
			Accepted:    true,
			Reason:      entity.ReasonUnconfirmedLocation,
			Unconfirmed: true,
		}
	}

	if in.Reporter == nil {
		return VerificationResult{Reason: entity.ReasonLocationUnavailable}
	}

	dist := Distance(*in.Reporter, *in.Site)
	if dist > s.ProximityMeters {
		return VerificationResult{Reason: entity.ReasonOutOfRange, DistanceMeters: &dist}
	}

	return VerificationResult{Accepted: true, DistanceMeters: &dist}
}
