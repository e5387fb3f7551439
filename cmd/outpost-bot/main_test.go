package main

import "testing"

func TestSceneStreamURL(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:8080":         "ws://127.0.0.1:8080/api/v1/scenes/mars%20base/stream",
		"https://outpost.example/root/": "wss://outpost.example/root/api/v1/scenes/mars%20base/stream",
	}
	for in, want := range cases {
		got, err := sceneStreamURL(in, "mars base")
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if got != want {
			t.Fatalf("sceneStreamURL(%q)=%q want %q", in, got, want)
		}
	}
}
