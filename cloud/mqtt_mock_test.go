package cloud

import (
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func TestMockClient_Connect(t *testing.T) {
	mock := NewMockClient()

	token := mock.Connect()
	if !token.WaitTimeout(1 * time.Second) {
		t.Error("Connect should complete immediately")
	}
	if token.Error() != nil {
		t.Errorf("Connect error = %v, want nil", token.Error())
	}
	if !mock.IsConnected() {
		t.Error("Client should be connected after Connect()")
	}
}

func TestMockClient_ConnectWithError(t *testing.T) {
	mock := NewMockClient()
	expectedErr := errors.New("connection failed")
	mock.SetConnectError(expectedErr)

	token := mock.Connect()
	if token.Error() != expectedErr {
		t.Errorf("Connect error = %v, want %v", token.Error(), expectedErr)
	}
	if mock.IsConnected() {
		t.Error("Client should not be connected after failed Connect()")
	}
}

func TestMockClient_ConnectRunsOnConnectHandler(t *testing.T) {
	mock := NewMockClient()
	called := false
	mock.SetOnConnectHandler(func(c mqtt.Client) {
		called = c.IsConnected()
	})

	mock.Connect()
	if !called {
		t.Error("OnConnect handler should run with a connected client")
	}
}

func TestMockClient_PublishNotConnected(t *testing.T) {
	mock := NewMockClient()

	token := mock.Publish("test/topic", 0, false, "payload")
	if token.Error() != mqtt.ErrNotConnected {
		t.Errorf("Publish error = %v, want ErrNotConnected", token.Error())
	}
	if len(mock.GetPublishedMessages()) != 0 {
		t.Error("No message should be recorded while disconnected")
	}
}

func TestMockClient_SubscribeAndSimulate(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	var got []byte
	token := mock.Subscribe("icpstep/step", 0, func(_ mqtt.Client, msg mqtt.Message) {
		got = msg.Payload()
	})
	if token.Error() != nil {
		t.Fatalf("Subscribe error = %v", token.Error())
	}

	mock.SimulateMessage("icpstep/step", []byte("go"))
	if string(got) != "go" {
		t.Errorf("payload = %q, want %q", got, "go")
	}

	mock.Unsubscribe("icpstep/step")
	got = nil
	mock.SimulateMessage("icpstep/step", []byte("again"))
	if got != nil {
		t.Error("handler should not run after Unsubscribe")
	}
}

func TestMockClient_Disconnect(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	mock.Disconnect(250)

	if mock.IsConnected() {
		t.Error("Client should not be connected after Disconnect()")
	}
}

func TestMockClient_ConcurrentOperations(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mock.Publish("icpstep/latest", 0, true, []byte("{}"))
			_ = mock.GetPublishedMessages()
			_ = mock.IsConnected()
		}()
	}
	wg.Wait()

	if n := len(mock.GetPublishedMessages()); n != 20 {
		t.Errorf("Published messages count = %d, want 20", n)
	}
}
