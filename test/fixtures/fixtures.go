package fixtures

import (
	"github.com/nimasrn/drone-dispatch/internal/auth"
	"github.com/nimasrn/drone-dispatch/internal/model"
)

const (
	UserID     int64 = 100
	OtherUser  int64 = 101
	SellerID   int64 = 200
	ShopID     int64 = 300
	AdminID    int64 = 1
	JwtSecret        = "e2e-secret"
	JwtIssuer        = "drone-dispatch-test"
	QRSecret         = "e2e-qr-secret"
	CruiseSpeed      = 40.0
)

var (
	User   = auth.User(UserID)
	Other  = auth.User(OtherUser)
	Seller = auth.Seller(SellerID)
	Admin  = auth.Admin(AdminID)
)

var (
	ShopLocation     = model.Location{Lat: 35.7000, Lng: 51.4000}
	CustomerLocation = model.Location{Lat: 35.7400, Lng: 51.4300}
	HangarLocation   = model.Location{Lat: 35.6900, Lng: 51.3900}
)

func DroneOrderRequest() model.OrderCreateRequest {
	return model.OrderCreateRequest{
		ShopID:       ShopID,
		SellerID:     SellerID,
		DeliveryType: model.DeliveryTypeDrone,
		Pickup:       ShopLocation,
		Delivery:     CustomerLocation,
		Address:      "4 Azadi Sq",
	}
}

func RegularOrderRequest() model.OrderCreateRequest {
	r := DroneOrderRequest()
	r.DeliveryType = model.DeliveryTypeRegular
	return r
}

var (
	InvalidLocations = []model.Location{
		{Lat: 91, Lng: 0},
		{Lat: 0, Lng: 181},
		{Lat: -90.5, Lng: 10},
	}
)
