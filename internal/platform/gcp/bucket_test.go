package gcp

import "testing"

func TestGetPublicURLPrefersCDNDomain(t *testing.T) {
	bs := &bucketService{bucketName: "rentora-media", cdnDomain: "media.rentora.test"}
	got := bs.GetPublicURL("units/u1/photos/hd/p1.jpg")
	want := "https://media.rentora.test/units/u1/photos/hd/p1.jpg"
	if got != want {
		t.Fatalf("url: want=%s got=%s", want, got)
	}
}

func TestGetPublicURLFallsBackToGCS(t *testing.T) {
	bs := &bucketService{bucketName: "rentora-media"}
	got := bs.GetPublicURL("/units/u1/photos/hd/p1.png")
	want := "https://storage.googleapis.com/rentora-media/units/u1/photos/hd/p1.png"
	if got != want {
		t.Fatalf("url: want=%s got=%s", want, got)
	}
}
